// Package opt provides optimization algorithms.
//
// Optimizers update parameters in place. Stateful optimizers keep their
// moment estimates per parameter group; callers pass a stable group index
// for each parameter slice (one per layer or per model tensor).
package opt

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrUnknownOptimizer is returned by New for unregistered names.
var ErrUnknownOptimizer = errors.New("unknown optimizer")

// Optimizer updates network parameters based on gradients.
type Optimizer interface {
	// StepInPlace updates params in-place from gradients. group identifies
	// the parameter slice across calls.
	StepInPlace(group int, params, gradients []float64)

	LearningRate() float64
	SetLearningRate(lr float64)

	// Name is the registry name of the optimizer.
	Name() string
}

// Factory builds an optimizer for a learning rate.
type Factory func(learningRate float64) Optimizer

var registry = map[string]Factory{
	"sgd":      func(lr float64) Optimizer { return NewSGD(lr) },
	"adadelta": func(lr float64) Optimizer { return NewAdadelta(lr) },
	"adagrad":  func(lr float64) Optimizer { return NewAdagrad(lr) },
	"adam":     func(lr float64) Optimizer { return NewAdam(lr) },
	"rmsprop":  func(lr float64) Optimizer { return NewRMSprop(lr) },
}

// New returns the optimizer registered under name.
func New(name string, learningRate float64) (Optimizer, error) {
	f, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownOptimizer, name, strings.Join(Names(), ", "))
	}
	return f(learningRate), nil
}

// Names lists the registered optimizer names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lr is embedded by every optimizer.
type lr struct {
	rate float64
}

func (l *lr) LearningRate() float64        { return l.rate }
func (l *lr) SetLearningRate(rate float64) { l.rate = rate }

// slots holds per-group optimizer state. get allocates one slice of n
// values per init value on first use, or when the group changes size.
type slots map[int][][]float64

func (s slots) get(group, n int, inits ...float64) [][]float64 {
	st, ok := s[group]
	if ok && len(st[0]) == n {
		return st
	}
	st = make([][]float64, len(inits))
	for i, init := range inits {
		st[i] = make([]float64, n)
		if init != 0 {
			for j := range st[i] {
				st[i][j] = init
			}
		}
	}
	s[group] = st
	return st
}

// SGD (Stochastic Gradient Descent) optimizer.
type SGD struct {
	lr
}

// NewSGD creates a plain gradient descent optimizer.
func NewSGD(learningRate float64) *SGD {
	return &SGD{lr: lr{rate: learningRate}}
}

// StepInPlace updates params in-place: params = params - lr * gradients
func (s *SGD) StepInPlace(_ int, params, gradients []float64) {
	for i := range params {
		params[i] -= s.rate * gradients[i]
	}
}

func (s *SGD) Name() string { return "sgd" }

// Adagrad scales each step by the inverse root of the summed squared gradients.
type Adagrad struct {
	lr
	InitialAccumulator float64
	state              slots
}

// NewAdagrad creates an Adagrad optimizer with accumulators starting at 0.1.
func NewAdagrad(learningRate float64) *Adagrad {
	return &Adagrad{lr: lr{rate: learningRate}, InitialAccumulator: 0.1, state: slots{}}
}

func (a *Adagrad) StepInPlace(group int, params, gradients []float64) {
	acc := a.state.get(group, len(params), a.InitialAccumulator)[0]
	for i := range params {
		g := gradients[i]
		acc[i] += g * g
		params[i] -= a.rate * g / math.Sqrt(acc[i])
	}
}

func (a *Adagrad) Name() string { return "adagrad" }

// Adadelta adapts step sizes from running averages of squared gradients
// and squared updates.
type Adadelta struct {
	lr
	Rho     float64
	Epsilon float64
	state   slots
}

// NewAdadelta creates an Adadelta optimizer with rho 0.95 and epsilon 1e-8.
func NewAdadelta(learningRate float64) *Adadelta {
	return &Adadelta{lr: lr{rate: learningRate}, Rho: 0.95, Epsilon: 1e-8, state: slots{}}
}

func (a *Adadelta) StepInPlace(group int, params, gradients []float64) {
	st := a.state.get(group, len(params), 0, 0)
	accum, accumUpdate := st[0], st[1]
	for i := range params {
		g := gradients[i]
		accum[i] = a.Rho*accum[i] + (1-a.Rho)*g*g
		update := math.Sqrt(accumUpdate[i]+a.Epsilon) / math.Sqrt(accum[i]+a.Epsilon) * g
		accumUpdate[i] = a.Rho*accumUpdate[i] + (1-a.Rho)*update*update
		params[i] -= a.rate * update
	}
}

func (a *Adadelta) Name() string { return "adadelta" }

// Adam optimizer for faster convergence.
type Adam struct {
	lr
	Beta1   float64 // Exponential decay rate for first moment
	Beta2   float64 // Exponential decay rate for second moment
	Epsilon float64 // Small constant for numerical stability

	state slots
	steps map[int]int
}

// NewAdam creates a new Adam optimizer with default values.
func NewAdam(learningRate float64) *Adam {
	return &Adam{
		lr:      lr{rate: learningRate},
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
		state:   slots{},
		steps:   map[int]int{},
	}
}

// StepInPlace applies one bias-corrected Adam update.
func (a *Adam) StepInPlace(group int, params, gradients []float64) {
	st := a.state.get(group, len(params), 0, 0)
	m, v := st[0], st[1]

	a.steps[group]++
	t := float64(a.steps[group])
	rate := a.rate * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))

	for i := range params {
		g := gradients[i]
		m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
		v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
		params[i] -= rate * m[i] / (math.Sqrt(v[i]) + a.Epsilon)
	}
}

func (a *Adam) Name() string { return "adam" }

// RMSprop divides the step by a running root-mean-square of gradients.
// The mean-square accumulator starts at 1.
type RMSprop struct {
	lr
	Decay    float64
	Momentum float64
	Epsilon  float64
	state    slots
}

// NewRMSprop creates an RMSprop optimizer with decay 0.9, no momentum and
// epsilon 1e-10.
func NewRMSprop(learningRate float64) *RMSprop {
	return &RMSprop{lr: lr{rate: learningRate}, Decay: 0.9, Epsilon: 1e-10, state: slots{}}
}

func (r *RMSprop) StepInPlace(group int, params, gradients []float64) {
	st := r.state.get(group, len(params), 1, 0)
	ms, mom := st[0], st[1]
	for i := range params {
		g := gradients[i]
		ms[i] = r.Decay*ms[i] + (1-r.Decay)*g*g
		mom[i] = r.Momentum*mom[i] + r.rate*g/math.Sqrt(ms[i]+r.Epsilon)
		params[i] -= mom[i]
	}
}

func (r *RMSprop) Name() string { return "rmsprop" }
