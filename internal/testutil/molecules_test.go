package testutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jababu3/chemprop/internal/testutil"
)

func TestChain(t *testing.T) {
	g := testutil.Chain("c4", 4, 3, 2, 1)
	require.NoError(t, g.Validate())
	assert.Equal(t, 4, g.NumAtoms())
	assert.Equal(t, 6, g.NumEdges())
	assert.Equal(t, 3, g.AtomDim())
	assert.Equal(t, 2, g.EdgeDim())
}

func TestRing(t *testing.T) {
	g := testutil.Ring("r5", 5, 3, 2, 0)
	require.NoError(t, g.Validate())
	assert.Equal(t, 10, g.NumEdges())
	assert.Equal(t, [2]int{4, 0}, g.EdgeIndex[8])
	assert.Equal(t, 9, g.RevEdgeIndex[8])
}

func TestWithDescriptors(t *testing.T) {
	g := testutil.WithDescriptors(testutil.Chain("c", 3, 2, 2, 0), 4, 0)
	require.NoError(t, g.Validate())
	assert.Equal(t, 4, g.DescriptorDim())
}

func TestLibrary(t *testing.T) {
	lib := testutil.Library(12, 3, 2)
	require.Len(t, lib, 12)
	keys := map[string]bool{}
	for _, g := range lib {
		require.NoError(t, g.Validate())
		keys[g.Key] = true
	}
	assert.Len(t, keys, 12)
}
