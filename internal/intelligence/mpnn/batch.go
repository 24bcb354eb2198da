package mpnn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/jababu3/chemprop/pkg/errors"
	"github.com/jababu3/chemprop/pkg/types/molecule"
)

// Scope locates one molecule's rows inside a batch.
type Scope struct {
	Start int `json:"start"`
	Size  int `json:"size"`
}

// BatchMolGraph packs several molecules into one indexed graph.
//
// Row 0 of V and E is a zero sentinel and index 0 doubles as padding in every
// index array, so a lookup through a padding slot yields zeros.  Real atoms
// occupy rows 1..NumAtoms and real edges rows 1..NumEdges.
type BatchMolGraph struct {
	// V has shape (|V|, d_v); E has shape (|E|, d_e).
	V *mat.Dense
	E *mat.Dense

	// A2B[a] lists the edges whose destination is a, padded with 0 to the
	// batch's maximum in-degree.
	A2B [][]int
	// B2A[e] is the origin atom of edge e.
	B2A []int
	// B2RevB[e] is the edge opposite to e.
	B2RevB []int
	// A2A[a][k] = B2A[A2B[a][k]]: the source atom of each incoming edge,
	// aligned slot-for-slot with A2B.
	A2A [][]int

	// Scopes holds one atom scope per molecule in input order.
	Scopes []Scope
	// BondScopes holds one directed-edge scope per molecule in input order.
	BondScopes []Scope
	// Keys carries each molecule's cache key, possibly empty.
	Keys []string

	// Vd holds the fused per-atom descriptors, or nil when the batch has none.
	Vd *mat.Dense
}

// BatchOption configures BuildBatch.
type BatchOption func(*batchOptions)

type batchOptions struct {
	dv, de int
}

// WithFeatureDims pins the expected atom and edge feature widths.  Without it
// the widths are inferred from the batch, which fails for a batch with no
// edges at all.
func WithFeatureDims(dv, de int) BatchOption {
	return func(o *batchOptions) {
		o.dv = dv
		o.de = de
	}
}

// BuildBatch validates each graph and assembles them, in order, into a
// BatchMolGraph.  Molecules with zero atoms are allowed and get an empty
// scope.
func BuildBatch(graphs []*molecule.MolGraph, opts ...BatchOption) (*BatchMolGraph, error) {
	if len(graphs) == 0 {
		return nil, errors.Precondition("cannot build an empty batch")
	}
	o := &batchOptions{}
	for _, opt := range opts {
		opt(o)
	}

	nAtoms, nEdges := 1, 1
	withAtoms, withDesc := 0, 0
	dv, de, dvd := o.dv, o.de, 0
	for i, g := range graphs {
		if err := g.Validate(); err != nil {
			return nil, errors.Wrap(err, errors.CodeUnknown, fmt.Sprintf("molecule %d", i))
		}
		if g.NumAtoms() > 0 {
			withAtoms++
			if dv == 0 {
				dv = g.AtomDim()
			}
			if g.AtomDim() != dv {
				return nil, errors.InvalidShape(fmt.Sprintf("V[%d]", i), []int{g.NumAtoms(), dv}, []int{g.NumAtoms(), g.AtomDim()})
			}
			if len(g.Descriptors) > 0 {
				withDesc++
				if dvd == 0 {
					dvd = g.DescriptorDim()
				}
				if g.DescriptorDim() != dvd {
					return nil, errors.InvalidShape(fmt.Sprintf("V_d[%d]", i), []int{g.NumAtoms(), dvd}, []int{g.NumAtoms(), g.DescriptorDim()})
				}
			}
		}
		if g.NumEdges() > 0 {
			if de == 0 {
				de = g.EdgeDim()
			}
			if g.EdgeDim() != de {
				return nil, errors.InvalidShape(fmt.Sprintf("E[%d]", i), []int{g.NumEdges(), de}, []int{g.NumEdges(), g.EdgeDim()})
			}
		}
		nAtoms += g.NumAtoms()
		nEdges += g.NumEdges()
	}
	if dv == 0 {
		return nil, errors.Precondition("cannot infer atom feature width from a batch without atoms")
	}
	if de == 0 {
		return nil, errors.Precondition("cannot infer edge feature width from a batch without edges")
	}
	if withDesc != 0 && withDesc != withAtoms {
		return nil, errors.Precondition(fmt.Sprintf("descriptors present for %d of %d molecules", withDesc, withAtoms))
	}

	b := &BatchMolGraph{
		V:          mat.NewDense(nAtoms, dv, nil),
		E:          mat.NewDense(nEdges, de, nil),
		B2A:        make([]int, nEdges),
		B2RevB:     make([]int, nEdges),
		Scopes:     make([]Scope, len(graphs)),
		BondScopes: make([]Scope, len(graphs)),
		Keys:       make([]string, len(graphs)),
	}
	if withDesc > 0 {
		b.Vd = mat.NewDense(nAtoms, dvd, nil)
	}

	incoming := make([][]int, nAtoms)
	aOff, eOff := 1, 1
	for i, g := range graphs {
		b.Scopes[i] = Scope{Start: aOff, Size: g.NumAtoms()}
		b.BondScopes[i] = Scope{Start: eOff, Size: g.NumEdges()}
		b.Keys[i] = g.Key

		for a, row := range g.V {
			b.V.SetRow(aOff+a, row)
			if b.Vd != nil {
				b.Vd.SetRow(aOff+a, g.Descriptors[a])
			}
		}
		for e, row := range g.E {
			ge := eOff + e
			b.E.SetRow(ge, row)
			b.B2A[ge] = aOff + g.EdgeIndex[e][0]
			b.B2RevB[ge] = eOff + g.RevEdgeIndex[e]
			dst := aOff + g.EdgeIndex[e][1]
			incoming[dst] = append(incoming[dst], ge)
		}
		aOff += g.NumAtoms()
		eOff += g.NumEdges()
	}

	maxDeg := 0
	for _, in := range incoming {
		if len(in) > maxDeg {
			maxDeg = len(in)
		}
	}
	b.A2B = make([][]int, nAtoms)
	b.A2A = make([][]int, nAtoms)
	for a := range b.A2B {
		b.A2B[a] = make([]int, maxDeg)
		b.A2A[a] = make([]int, maxDeg)
		for k, e := range incoming[a] {
			b.A2B[a][k] = e
			b.A2A[a][k] = b.B2A[e]
		}
	}
	return b, nil
}

// NumMolecules returns the number of molecules in the batch.
func (b *BatchMolGraph) NumMolecules() int { return len(b.Scopes) }

// NumAtoms returns the number of real atoms, excluding the sentinel.
func (b *BatchMolGraph) NumAtoms() int {
	r, _ := b.V.Dims()
	return r - 1
}

// NumEdges returns the number of real directed edges, excluding the sentinel.
func (b *BatchMolGraph) NumEdges() int {
	r, _ := b.E.Dims()
	return r - 1
}

// MaxInDegree returns the padded width of A2B and A2A.
func (b *BatchMolGraph) MaxInDegree() int {
	if len(b.A2B) == 0 {
		return 0
	}
	return len(b.A2B[0])
}

// Slice returns the rows of a per-atom matrix h that belong to molecule i.
// The result is a view sharing storage with h, or nil for a molecule without
// atoms.
func (b *BatchMolGraph) Slice(h *mat.Dense, i int) (*mat.Dense, error) {
	if i < 0 || i >= len(b.Scopes) {
		return nil, errors.InvalidParam(fmt.Sprintf("molecule index %d out of range [0, %d)", i, len(b.Scopes)))
	}
	r, c := h.Dims()
	if r != b.NumAtoms()+1 {
		return nil, errors.InvalidShape("H", []int{b.NumAtoms() + 1, c}, []int{r, c})
	}
	s := b.Scopes[i]
	if s.Size == 0 {
		return nil, nil
	}
	return h.Slice(s.Start, s.Start+s.Size, 0, c).(*mat.Dense), nil
}

// Validate checks the structural invariants of a batch.  It is called before
// any numeric work so that a malformed batch never reaches the recurrence.
func (b *BatchMolGraph) Validate() error {
	if b == nil || b.V == nil || b.E == nil {
		return errors.Precondition("batch graph is incomplete")
	}
	if len(b.Scopes) == 0 {
		return errors.Precondition("batch has no molecules")
	}
	nV, _ := b.V.Dims()
	nE, _ := b.E.Dims()

	if !zeroRow(b.V, 0) || !zeroRow(b.E, 0) {
		return errors.MalformedGraph("sentinel row 0 must be zero")
	}
	if len(b.B2A) != nE || len(b.B2RevB) != nE {
		return errors.MalformedGraph("edge index arrays disagree with E").
			WithDetail(fmt.Sprintf("|E|=%d b2a=%d b2revb=%d", nE, len(b.B2A), len(b.B2RevB)))
	}
	if len(b.A2B) != nV || len(b.A2A) != nV {
		return errors.MalformedGraph("atom index arrays disagree with V").
			WithDetail(fmt.Sprintf("|V|=%d a2b=%d a2a=%d", nV, len(b.A2B), len(b.A2A)))
	}
	if b.B2A[0] != 0 || b.B2RevB[0] != 0 {
		return errors.MalformedGraph("sentinel edge must map to sentinel")
	}
	for e := 1; e < nE; e++ {
		if b.B2A[e] < 1 || b.B2A[e] >= nV {
			return errors.MalformedGraph("edge origin out of range").WithDetail(fmt.Sprintf("b2a[%d]=%d", e, b.B2A[e]))
		}
		r := b.B2RevB[e]
		if r < 1 || r >= nE || r == e || b.B2RevB[r] != e {
			return errors.MalformedGraph("b2revb must be an involution without fixed points").
				WithDetail(fmt.Sprintf("b2revb[%d]=%d", e, r))
		}
	}

	width := b.MaxInDegree()
	for a := 0; a < nV; a++ {
		if len(b.A2B[a]) != width || len(b.A2A[a]) != width {
			return errors.MalformedGraph("a2b and a2a rows must share one padded width").WithDetail(fmt.Sprintf("atom %d", a))
		}
		for k, e := range b.A2B[a] {
			if e < 0 || e >= nE {
				return errors.MalformedGraph("a2b entry out of range").WithDetail(fmt.Sprintf("a2b[%d][%d]=%d", a, k, e))
			}
			if a == 0 && e != 0 {
				return errors.MalformedGraph("sentinel atom must have no incoming edges")
			}
			if b.A2A[a][k] != b.B2A[e] {
				return errors.MalformedGraph("a2a is not aligned with a2b").WithDetail(fmt.Sprintf("a2a[%d][%d]", a, k))
			}
			// the destination of e is the origin of its reverse
			if e != 0 && b.B2A[b.B2RevB[e]] != a {
				return errors.MalformedGraph("a2b lists an edge that does not end at the atom").
					WithDetail(fmt.Sprintf("a2b[%d][%d]=%d", a, k, e))
			}
		}
	}

	next := 1
	for i, s := range b.Scopes {
		if s.Start != next || s.Size < 0 {
			return errors.MalformedGraph("atom scopes must be contiguous").WithDetail(fmt.Sprintf("scope %d = %+v", i, s))
		}
		next += s.Size
	}
	if next != nV {
		return errors.MalformedGraph("atom scopes do not cover the batch").WithDetail(fmt.Sprintf("covered %d of %d", next-1, nV-1))
	}

	if b.Vd != nil {
		r, c := b.Vd.Dims()
		if r != nV {
			return errors.InvalidShape("V_d", []int{nV, c}, []int{r, c})
		}
	}
	return nil
}

func zeroRow(m *mat.Dense, i int) bool {
	for _, v := range m.RawRowView(i) {
		if v != 0 {
			return false
		}
	}
	return true
}
