package testutil

import (
	"fmt"

	"github.com/jababu3/chemprop/pkg/types/molecule"
)

// Chain returns a linear molecule of n atoms with deterministic features of
// widths dv and de.  Different seeds give different feature values.
func Chain(key string, n, dv, de int, seed float64) *molecule.MolGraph {
	atoms := make([][]float64, n)
	for i := range atoms {
		atoms[i] = featureRow(dv, seed+float64(i))
	}
	bonds := make([]molecule.Bond, 0, n)
	for i := 0; i+1 < n; i++ {
		bonds = append(bonds, molecule.Bond{Begin: i, End: i + 1, Features: featureRow(de, seed-float64(i)-0.5)})
	}
	return molecule.FromBonds(key, atoms, bonds)
}

// Ring returns a cyclic molecule of n ≥ 3 atoms.
func Ring(key string, n, dv, de int, seed float64) *molecule.MolGraph {
	g := Chain(key, n, dv, de, seed)
	closing := molecule.FromBonds("", nil, []molecule.Bond{{Begin: n - 1, End: 0, Features: featureRow(de, seed+0.25)}})
	next := len(g.E)
	g.E = append(g.E, closing.E...)
	g.EdgeIndex = append(g.EdgeIndex, closing.EdgeIndex...)
	g.RevEdgeIndex = append(g.RevEdgeIndex, next+1, next)
	return g
}

// WithDescriptors attaches deterministic per-atom descriptor rows of width dvd.
func WithDescriptors(g *molecule.MolGraph, dvd int, seed float64) *molecule.MolGraph {
	g.Descriptors = make([][]float64, g.NumAtoms())
	for i := range g.Descriptors {
		g.Descriptors[i] = featureRow(dvd, seed+float64(i)*0.3)
	}
	return g
}

// Library returns n distinct keyed molecules of mixed size and topology.
func Library(n, dv, de int) []*molecule.MolGraph {
	out := make([]*molecule.MolGraph, n)
	for i := range out {
		size := 1 + i%5
		key := fmt.Sprintf("mol-%03d", i)
		if size >= 3 && i%2 == 0 {
			out[i] = Ring(key, size, dv, de, float64(i))
		} else {
			out[i] = Chain(key, size, dv, de, float64(i))
		}
	}
	return out
}

// featureRow fills a row with small non-constant values derived from seed.
func featureRow(width int, seed float64) []float64 {
	row := make([]float64, width)
	for j := range row {
		x := seed*0.37 + float64(j)*0.61
		row[j] = x - float64(int(x)) - 0.5
		if j%2 == 1 {
			row[j] *= -2
		}
	}
	return row
}
