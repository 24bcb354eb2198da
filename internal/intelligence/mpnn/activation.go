package mpnn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// ActivationType enumerates the supported non-linearities.
type ActivationType string

const (
	ActivationReLU      ActivationType = "relu"
	ActivationLeakyReLU ActivationType = "leakyrelu"
	ActivationPReLU     ActivationType = "prelu"
	ActivationTanh      ActivationType = "tanh"
	ActivationSELU      ActivationType = "selu"
	ActivationELU       ActivationType = "elu"
)

const (
	leakyReLUSlope    = 0.1
	defaultPReLUSlope = 0.25

	seluAlpha = 1.6732632423543772848170429916717
	seluScale = 1.0507009873554804934193349852946
)

// IsValid reports whether a is a known activation.
func (a ActivationType) IsValid() bool {
	switch a {
	case ActivationReLU, ActivationLeakyReLU, ActivationPReLU,
		ActivationTanh, ActivationSELU, ActivationELU:
		return true
	}
	return false
}

type activationFunc func(float64) float64

// fn returns the scalar function for a.  preluSlope is only read for PReLU,
// whose slope is a learned parameter held in Projections.
func (a ActivationType) fn(preluSlope float64) activationFunc {
	switch a {
	case ActivationLeakyReLU:
		return func(x float64) float64 {
			if x < 0 {
				return leakyReLUSlope * x
			}
			return x
		}
	case ActivationPReLU:
		return func(x float64) float64 {
			if x < 0 {
				return preluSlope * x
			}
			return x
		}
	case ActivationTanh:
		return math.Tanh
	case ActivationSELU:
		return func(x float64) float64 {
			if x > 0 {
				return seluScale * x
			}
			return seluScale * seluAlpha * (math.Exp(x) - 1)
		}
	case ActivationELU:
		return func(x float64) float64 {
			if x > 0 {
				return x
			}
			return math.Exp(x) - 1
		}
	default:
		return func(x float64) float64 {
			if x < 0 {
				return 0
			}
			return x
		}
	}
}

// activate applies f element-wise to m in place.
func activate(m *mat.Dense, f activationFunc) {
	m.Apply(func(_, _ int, v float64) float64 { return f(v) }, m)
}
