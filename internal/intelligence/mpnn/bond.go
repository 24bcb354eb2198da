package mpnn

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// bondStrategy keeps the hidden state on directed edges.
//
//	H0 = τ(W_i·E)
//	M[e] = Σ_{e' ∈ a2b[b2a[e]]} H[e'] - H[b2revb[e]]
//	H = dropout(τ(H0 + W_h·M))
//
// The reverse edge is subtracted so an edge never hears its own echo.
type bondStrategy struct{}

func (bondStrategy) inputDims(cfg *Config) (int, int) {
	return cfg.DE, cfg.DH
}

func (bondStrategy) aggregate(e *Engine, mode Mode, bmg *BatchMolGraph) (*mat.Dense, error) {
	h0, err := e.initial(bmg.E)
	if err != nil {
		return nil, err
	}
	h := h0
	for round := 1; round < e.cfg.Depth; round++ {
		if e.cfg.Undirected {
			h = symmetrize(h, bmg.B2RevB)
		}
		h, err = e.update(mode, h0, bondMessages(h, bmg))
		if err != nil {
			return nil, err
		}
	}
	return sumGather(h, bmg.A2B), nil
}

// bondMessages computes the directed-edge messages for one round.
func bondMessages(h *mat.Dense, bmg *BatchMolGraph) *mat.Dense {
	atomSum := sumGather(h, bmg.A2B)
	nE, c := h.Dims()
	m := mat.NewDense(nE, c, nil)
	for e := 1; e < nE; e++ {
		floats.SubTo(m.RawRowView(e), atomSum.RawRowView(bmg.B2A[e]), h.RawRowView(bmg.B2RevB[e]))
	}
	return m
}
