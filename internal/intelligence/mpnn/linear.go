package mpnn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/jababu3/chemprop/pkg/errors"
)

// Linear is an affine map y = x·Wᵀ + b applied row-wise.  W has shape
// (out, in).  B is nil when the projection has no bias.
type Linear struct {
	W *mat.Dense
	B []float64
}

// NewLinear allocates a projection initialized uniformly in ±1/√in, the
// fan-in scaled default of common deep learning frameworks.
func NewLinear(in, out int, bias bool, rng *rand.Rand) *Linear {
	bound := 1 / math.Sqrt(float64(in))
	w := make([]float64, out*in)
	for i := range w {
		w[i] = (2*rng.Float64() - 1) * bound
	}
	l := &Linear{W: mat.NewDense(out, in, w)}
	if bias {
		l.B = make([]float64, out)
		for i := range l.B {
			l.B[i] = (2*rng.Float64() - 1) * bound
		}
	}
	return l
}

// In returns the input width.
func (l *Linear) In() int {
	_, c := l.W.Dims()
	return c
}

// Out returns the output width.
func (l *Linear) Out() int {
	r, _ := l.W.Dims()
	return r
}

// Forward applies the projection to every row of x.
func (l *Linear) Forward(name string, x mat.Matrix) (*mat.Dense, error) {
	r, c := x.Dims()
	if c != l.In() {
		return nil, errors.InvalidShape(name, []int{r, l.In()}, []int{r, c})
	}
	out := mat.NewDense(r, l.Out(), nil)
	out.Mul(x, l.W.T())
	if l.B != nil {
		for i := 0; i < r; i++ {
			floats.Add(out.RawRowView(i), l.B)
		}
	}
	return out, nil
}

func (l *Linear) validate(name string, in, out int) error {
	if l == nil || l.W == nil {
		return errors.Precondition("projection " + name + " is missing")
	}
	if l.In() != in || l.Out() != out {
		return errors.InvalidShape(name, []int{out, in}, []int{l.Out(), l.In()})
	}
	if l.B != nil && len(l.B) != out {
		return errors.InvalidShape(name+".bias", []int{out}, []int{len(l.B)})
	}
	return nil
}
