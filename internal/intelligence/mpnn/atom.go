package mpnn

import (
	"gonum.org/v1/gonum/mat"
)

// atomStrategy keeps the hidden state on atoms.
//
//	H0 = τ(W_i·V)
//	M[a] = Σ_k [H[a2a[a][k]], E[a2b[a][k]]]
//	H = dropout(τ(H0 + W_h·M))
//
// In undirected mode the neighbor message on each incoming edge is averaged
// with the message on its reverse before summation.
type atomStrategy struct{}

func (atomStrategy) inputDims(cfg *Config) (int, int) {
	return cfg.DV, cfg.DH + cfg.DE
}

func (atomStrategy) aggregate(e *Engine, mode Mode, bmg *BatchMolGraph) (*mat.Dense, error) {
	h0, err := e.initial(bmg.V)
	if err != nil {
		return nil, err
	}
	edgeSum := sumGather(bmg.E, bmg.A2B)
	h := h0
	for round := 1; round < e.cfg.Depth; round++ {
		m := hcat(atomNeighborSum(h, bmg, e.cfg.Undirected), edgeSum)
		h, err = e.update(mode, h0, m)
		if err != nil {
			return nil, err
		}
	}
	return sumGather(h, bmg.A2A), nil
}

// atomNeighborSum sums the hidden states of each atom's in-neighbors.  When
// undirected is set the message carried by edge e, H[b2a[e]], is replaced by
// the mean of it and the message carried by b2revb[e].
func atomNeighborSum(h *mat.Dense, bmg *BatchMolGraph, undirected bool) *mat.Dense {
	if !undirected {
		return sumGather(h, bmg.A2A)
	}
	return sumGather(atomEdgeMessages(h, bmg, true), bmg.A2B)
}

// atomEdgeMessages lays the neighbor message of every directed edge out as a
// row: row e is H[b2a[e]], symmetrized across reverse pairs if requested.
func atomEdgeMessages(h *mat.Dense, bmg *BatchMolGraph, undirected bool) *mat.Dense {
	msgs := gatherRows(h, bmg.B2A)
	if undirected {
		msgs = symmetrize(msgs, bmg.B2RevB)
	}
	return msgs
}
