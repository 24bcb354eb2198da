package molecule

import (
	"encoding/json"
	"testing"

	"github.com/jababu3/chemprop/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ethanol() *MolGraph {
	atoms := [][]float64{{1, 0}, {1, 0}, {0, 1}}
	bonds := []Bond{
		{Begin: 0, End: 1, Features: []float64{1, 0, 0}},
		{Begin: 1, End: 2, Features: []float64{1, 0, 0}},
	}
	return FromBonds("CCO", atoms, bonds)
}

func TestFromBonds_DirectedLayout(t *testing.T) {
	g := ethanol()

	assert.Equal(t, 3, g.NumAtoms())
	assert.Equal(t, 4, g.NumEdges())
	assert.Equal(t, [][2]int{{0, 1}, {1, 0}, {1, 2}, {2, 1}}, g.EdgeIndex)
	assert.Equal(t, []int{1, 0, 3, 2}, g.RevEdgeIndex)
	assert.Equal(t, 2, g.AtomDim())
	assert.Equal(t, 3, g.EdgeDim())
	assert.Equal(t, 0, g.DescriptorDim())
	assert.NoError(t, g.Validate())
}

func TestValidate_SingleAtomNoBonds(t *testing.T) {
	g := FromBonds("C", [][]float64{{1, 0}}, nil)
	assert.NoError(t, g.Validate())
	assert.Equal(t, 0, g.EdgeDim())
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(g *MolGraph)
		code   errors.ErrorCode
	}{
		{"ragged atom rows", func(g *MolGraph) { g.V[1] = []float64{1} }, errors.CodeInvalidShape},
		{"ragged edge rows", func(g *MolGraph) { g.E[2] = []float64{1} }, errors.CodeInvalidShape},
		{"missing reverse", func(g *MolGraph) { g.RevEdgeIndex = g.RevEdgeIndex[:3] }, errors.CodeMalformedGraph},
		{"endpoint out of range", func(g *MolGraph) { g.EdgeIndex[0] = [2]int{0, 7} }, errors.CodeMalformedGraph},
		{"self loop", func(g *MolGraph) { g.EdgeIndex[0] = [2]int{1, 1} }, errors.CodeMalformedGraph},
		{"fixed point", func(g *MolGraph) { g.RevEdgeIndex[0] = 0 }, errors.CodeMalformedGraph},
		{"not involutive", func(g *MolGraph) { g.RevEdgeIndex[0] = 2 }, errors.CodeMalformedGraph},
		{"reverse out of range", func(g *MolGraph) { g.RevEdgeIndex[0] = 9 }, errors.CodeMalformedGraph},
		{"descriptor rows", func(g *MolGraph) { g.Descriptors = [][]float64{{1}} }, errors.CodeInvalidShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := ethanol()
			tt.mutate(g)
			err := g.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestValidate_SwappedEndpointsRequired(t *testing.T) {
	g := ethanol()
	// involutive pairing, but edge 0 (0->1) is paired with edge 3 (2->1).
	g.RevEdgeIndex = []int{3, 2, 1, 0}
	err := g.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeMalformedGraph))
}

func TestValidate_Nil(t *testing.T) {
	var g *MolGraph
	assert.Error(t, g.Validate())
}

func TestMolGraph_JSONRoundTripKeepsKey(t *testing.T) {
	g := ethanol()
	g.Descriptors = [][]float64{{0.5}, {0.25}, {0}}

	b, err := json.Marshal(g)
	require.NoError(t, err)

	var back MolGraph
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, "CCO", back.Key)
	assert.Equal(t, g.EdgeIndex, back.EdgeIndex)
	assert.Equal(t, 1, back.DescriptorDim())
	assert.NoError(t, back.Validate())
}
