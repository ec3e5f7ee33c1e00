// Package activations provides activation functions and the numerically
// stable log-space helpers used by the generative models.
package activations

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(x)
	Activate(x float64) float64

	// Derivative computes f'(x) given the pre-activation x
	Derivative(x float64) float64
}

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x)
func (r ReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// Derivative returns 1 if x > 0, else 0
func (r ReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// Sigmoid activation function.
type Sigmoid struct{}

// Activate computes sigmoid(x)
func (s Sigmoid) Activate(x float64) float64 {
	return Logistic(x)
}

// Derivative computes sigmoid(x) * (1 - sigmoid(x))
func (s Sigmoid) Derivative(x float64) float64 {
	sigma := Logistic(x)
	return sigma * (1 - sigma)
}

// LeakyReLU activation function to prevent dying neurons.
type LeakyReLU struct {
	Alpha float64 // Slope for x <= 0
}

// NewLeakyReLU creates a LeakyReLU with the given alpha value.
func NewLeakyReLU(alpha float64) *LeakyReLU {
	return &LeakyReLU{Alpha: alpha}
}

// Activate computes x if x > 0, else alpha*x
func (l *LeakyReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return l.Alpha * x
}

// Derivative returns 1 if x > 0, else alpha
func (l *LeakyReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return l.Alpha
}

// Tanh activation function.
type Tanh struct{}

// Activate computes tanh(x)
func (t Tanh) Activate(x float64) float64 {
	return math.Tanh(x)
}

// Derivative computes 1 - tanh(x)^2
func (t Tanh) Derivative(x float64) float64 {
	tanhX := math.Tanh(x)
	return 1 - tanhX*tanhX
}

// Linear is the identity activation, used for output heads that emit
// logits or distribution parameters.
type Linear struct{}

func (Linear) Activate(x float64) float64   { return x }
func (Linear) Derivative(x float64) float64 { return 1 }

// ByName resolves the activation names accepted in configuration files.
func ByName(name string) (Activation, error) {
	switch name {
	case "relu":
		return ReLU{}, nil
	case "sigmoid":
		return Sigmoid{}, nil
	case "tanh":
		return Tanh{}, nil
	case "leaky_relu":
		return NewLeakyReLU(0.2), nil
	case "linear", "":
		return Linear{}, nil
	default:
		return nil, fmt.Errorf("unknown activation %q", name)
	}
}

// Name is the inverse of ByName. Unknown implementations report "linear".
func Name(act Activation) string {
	switch act.(type) {
	case ReLU:
		return "relu"
	case Sigmoid:
		return "sigmoid"
	case Tanh:
		return "tanh"
	case *LeakyReLU:
		return "leaky_relu"
	default:
		return "linear"
	}
}

// Logistic computes 1/(1+exp(-x)) without overflowing for large |x|.
func Logistic(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Softplus computes log(1+exp(x)).
func Softplus(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}

// LogSigmoid computes log(sigmoid(x)) = -softplus(-x).
func LogSigmoid(x float64) float64 {
	return -Softplus(-x)
}

// LogSumExp returns log(sum(exp(x))).
func LogSumExp(x []float64) float64 {
	return floats.LogSumExp(x)
}

// LogSoftmax writes x - logsumexp(x) into dst and returns it.
// dst may alias x.
func LogSoftmax(dst, x []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(x))
	}
	lse := floats.LogSumExp(x)
	for i := range x {
		dst[i] = x[i] - lse
	}
	return dst
}

// Softmax writes exp(x - logsumexp(x)) into dst and returns it.
// dst may alias x.
func Softmax(dst, x []float64) []float64 {
	dst = LogSoftmax(dst, x)
	for i := range dst {
		dst[i] = math.Exp(dst[i])
	}
	return dst
}
