package mpnn

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// sumGather returns out[i] = Σ_k src[idx[i][k]].  Padding slots point at the
// zero sentinel row and contribute nothing.
func sumGather(src *mat.Dense, idx [][]int) *mat.Dense {
	_, c := src.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, slots := range idx {
		row := out.RawRowView(i)
		for _, j := range slots {
			if j == 0 {
				continue
			}
			floats.Add(row, src.RawRowView(j))
		}
	}
	return out
}

// gatherRows returns out[i] = src[idx[i]].
func gatherRows(src *mat.Dense, idx []int) *mat.Dense {
	_, c := src.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, j := range idx {
		copy(out.RawRowView(i), src.RawRowView(j))
	}
	return out
}

// symmetrize returns out[e] = (h[e] + h[rev[e]]) / 2, which makes the rows of
// every reverse pair equal.
func symmetrize(h *mat.Dense, rev []int) *mat.Dense {
	r, c := h.Dims()
	out := mat.NewDense(r, c, nil)
	for e := 0; e < r; e++ {
		row := out.RawRowView(e)
		floats.AddTo(row, h.RawRowView(e), h.RawRowView(rev[e]))
		floats.Scale(0.5, row)
	}
	return out
}

// hcat concatenates a and b column-wise.
func hcat(a, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Augment(a, b)
	return &out
}

// zeroSentinel clears row 0 so lookups through padding stay zero.
func zeroSentinel(m *mat.Dense) {
	row := m.RawRowView(0)
	for i := range row {
		row[i] = 0
	}
}
