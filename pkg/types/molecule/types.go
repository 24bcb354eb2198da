// Package molecule defines the per-molecule graph DTO handed to the encoder by
// an external featurizer.  It holds plain data types and their structural
// validation only, and is safe to import from any layer.
package molecule

import (
	"fmt"

	"github.com/jababu3/chemprop/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// MolGraph: featurized molecular graph
// ─────────────────────────────────────────────────────────────────────────────

// MolGraph is the featurized graph of a single molecule.  Atom and edge
// indices are local to the molecule (0-based); the batching layer offsets
// them into a shared index space.
//
// Every chemical bond contributes two directed edges, one per direction, and
// RevEdgeIndex pairs them up.
type MolGraph struct {
	// Key is an optional stable identifier (e.g. canonical SMILES).  It is only
	// used to look up cached embeddings and never influences encoding.
	Key string `json:"key,omitempty"`

	// V holds one feature row per atom.
	V [][]float64 `json:"v"`

	// E holds one feature row per directed edge.
	E [][]float64 `json:"e"`

	// EdgeIndex holds the (source, destination) atom pair of each directed edge.
	EdgeIndex [][2]int `json:"edge_index"`

	// RevEdgeIndex[e] is the index of the edge running opposite to e.
	RevEdgeIndex []int `json:"rev_edge_index"`

	// Descriptors optionally holds extra per-atom descriptor rows aligned with V.
	Descriptors [][]float64 `json:"descriptors,omitempty"`
}

// Bond is an undirected chemical bond between two atoms of a molecule.
type Bond struct {
	Begin    int       `json:"begin"`
	End      int       `json:"end"`
	Features []float64 `json:"features"`
}

// FromBonds builds a MolGraph from undirected bonds.  Bond i becomes directed
// edges 2i (Begin→End) and 2i+1 (End→Begin), both carrying the bond's
// features, which is the layout produced by common featurizers.
func FromBonds(key string, atoms [][]float64, bonds []Bond) *MolGraph {
	g := &MolGraph{
		Key:          key,
		V:            atoms,
		E:            make([][]float64, 0, 2*len(bonds)),
		EdgeIndex:    make([][2]int, 0, 2*len(bonds)),
		RevEdgeIndex: make([]int, 0, 2*len(bonds)),
	}
	for i, b := range bonds {
		g.E = append(g.E, b.Features, b.Features)
		g.EdgeIndex = append(g.EdgeIndex, [2]int{b.Begin, b.End}, [2]int{b.End, b.Begin})
		g.RevEdgeIndex = append(g.RevEdgeIndex, 2*i+1, 2*i)
	}
	return g
}

// NumAtoms returns the number of atoms.
func (g *MolGraph) NumAtoms() int { return len(g.V) }

// NumEdges returns the number of directed edges.
func (g *MolGraph) NumEdges() int { return len(g.E) }

// AtomDim returns the atom feature width, or 0 for an atom-less graph.
func (g *MolGraph) AtomDim() int {
	if len(g.V) == 0 {
		return 0
	}
	return len(g.V[0])
}

// EdgeDim returns the edge feature width, or 0 for an edge-less graph.
func (g *MolGraph) EdgeDim() int {
	if len(g.E) == 0 {
		return 0
	}
	return len(g.E[0])
}

// DescriptorDim returns the descriptor width, or 0 when descriptors are absent.
func (g *MolGraph) DescriptorDim() int {
	if len(g.Descriptors) == 0 {
		return 0
	}
	return len(g.Descriptors[0])
}

// Validate checks the structural invariants of the graph:
//   - uniform row widths in V, E and Descriptors
//   - E, EdgeIndex and RevEdgeIndex have equal length
//   - every edge endpoint is a valid atom index
//   - RevEdgeIndex is an involution without fixed points whose pairs have
//     swapped endpoints
//   - Descriptors, when present, has one row per atom
func (g *MolGraph) Validate() error {
	if g == nil {
		return errors.MalformedGraph("graph is nil")
	}
	if err := uniformWidth("V", g.V); err != nil {
		return err
	}
	if err := uniformWidth("E", g.E); err != nil {
		return err
	}
	if err := uniformWidth("Descriptors", g.Descriptors); err != nil {
		return err
	}
	if len(g.Descriptors) > 0 && len(g.Descriptors) != len(g.V) {
		return errors.InvalidShape("Descriptors",
			[]int{len(g.V), g.DescriptorDim()}, []int{len(g.Descriptors), g.DescriptorDim()})
	}

	nE := len(g.E)
	if len(g.EdgeIndex) != nE || len(g.RevEdgeIndex) != nE {
		return errors.MalformedGraph("edge arrays disagree in length").
			WithDetail(fmt.Sprintf("E=%d edge_index=%d rev_edge_index=%d", nE, len(g.EdgeIndex), len(g.RevEdgeIndex)))
	}

	nV := len(g.V)
	for e, ends := range g.EdgeIndex {
		if ends[0] < 0 || ends[0] >= nV || ends[1] < 0 || ends[1] >= nV {
			return errors.MalformedGraph("edge endpoint out of range").
				WithDetail(fmt.Sprintf("edge %d = %v with %d atoms", e, ends, nV))
		}
		if ends[0] == ends[1] {
			return errors.MalformedGraph("self-loop edge").WithDetail(fmt.Sprintf("edge %d", e))
		}
	}
	for e, r := range g.RevEdgeIndex {
		if r < 0 || r >= nE {
			return errors.MalformedGraph("reverse edge index out of range").
				WithDetail(fmt.Sprintf("rev(%d) = %d with %d edges", e, r, nE))
		}
		if r == e {
			return errors.MalformedGraph("edge is its own reverse").WithDetail(fmt.Sprintf("edge %d", e))
		}
		if g.RevEdgeIndex[r] != e {
			return errors.MalformedGraph("reverse edge mapping is not involutive").
				WithDetail(fmt.Sprintf("rev(%d) = %d but rev(%d) = %d", e, r, r, g.RevEdgeIndex[r]))
		}
		if g.EdgeIndex[r][0] != g.EdgeIndex[e][1] || g.EdgeIndex[r][1] != g.EdgeIndex[e][0] {
			return errors.MalformedGraph("reverse edge endpoints are not swapped").
				WithDetail(fmt.Sprintf("edge %d = %v, reverse %d = %v", e, g.EdgeIndex[e], r, g.EdgeIndex[r]))
		}
	}
	return nil
}

func uniformWidth(name string, rows [][]float64) error {
	if len(rows) == 0 {
		return nil
	}
	w := len(rows[0])
	for i, row := range rows {
		if len(row) != w {
			return errors.InvalidShape(name, []int{len(rows), w}, []int{i, len(row)}).
				WithDetail(fmt.Sprintf("row %d has width %d", i, len(row)))
		}
	}
	return nil
}
