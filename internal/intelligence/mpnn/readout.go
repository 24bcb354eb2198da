package mpnn

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/jababu3/chemprop/pkg/errors"
)

// AggregationType selects how per-atom embeddings are pooled per molecule.
type AggregationType string

const (
	AggregationMean AggregationType = "mean"
	AggregationSum  AggregationType = "sum"
	// AggregationNorm sums and divides by a fixed normalization constant.
	AggregationNorm AggregationType = "norm"
)

// IsValid reports whether a is a known aggregation.
func (a AggregationType) IsValid() bool {
	return a == AggregationMean || a == AggregationSum || a == AggregationNorm
}

// Readout pools the per-atom rows of h into one row per molecule, in scope
// order.  A molecule without atoms yields a zero row.
func Readout(bmg *BatchMolGraph, h *mat.Dense, agg AggregationType, normConstant float64) (*mat.Dense, error) {
	if !agg.IsValid() {
		return nil, errors.Precondition(fmt.Sprintf("unknown aggregation %q", agg))
	}
	r, c := h.Dims()
	if r != bmg.NumAtoms()+1 {
		return nil, errors.InvalidShape("H", []int{bmg.NumAtoms() + 1, c}, []int{r, c})
	}
	out := mat.NewDense(bmg.NumMolecules(), c, nil)
	for i, s := range bmg.Scopes {
		if s.Size == 0 {
			continue
		}
		row := out.RawRowView(i)
		for a := s.Start; a < s.Start+s.Size; a++ {
			floats.Add(row, h.RawRowView(a))
		}
		switch agg {
		case AggregationMean:
			floats.Scale(1/float64(s.Size), row)
		case AggregationNorm:
			floats.Scale(1/normConstant, row)
		}
	}
	return out, nil
}
