package mpnn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Mode threads the training/evaluation switch through every encode call.
// The zero value is evaluation mode, in which dropout is the identity and
// encoding is deterministic.
//
// A training Mode carries its own *rand.Rand, which is not safe for
// concurrent use; give each goroutine its own Mode.
type Mode struct {
	training bool
	rng      *rand.Rand
}

// Eval returns the evaluation mode.
func Eval() Mode { return Mode{} }

// Train returns a training mode drawing dropout masks from rng.  A nil rng
// falls back to evaluation mode.
func Train(rng *rand.Rand) Mode {
	if rng == nil {
		return Mode{}
	}
	return Mode{training: true, rng: rng}
}

// Training reports whether dropout is active.
func (m Mode) Training() bool { return m.training }

// dropout zeroes each element of x with probability p and scales survivors by
// 1/(1-p), in place.  It is a no-op in evaluation mode or when p == 0.
func dropout(mode Mode, p float64, x *mat.Dense) {
	if !mode.training || p <= 0 {
		return
	}
	scale := 1 / (1 - p)
	x.Apply(func(_, _ int, v float64) float64 {
		if mode.rng.Float64() < p {
			return 0
		}
		return v * scale
	}, x)
}
