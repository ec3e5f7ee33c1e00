// Package opt provides unit tests for optimizers.
package opt

import (
	"errors"
	"math"
	"testing"
)

// TestSGDStepInPlace tests in-place SGD update.
func TestSGDStepInPlace(t *testing.T) {
	sgd := NewSGD(0.1)

	params := []float64{1.0, 2.0, 3.0}
	gradients := []float64{0.1, 0.2, 0.3}

	sgd.StepInPlace(0, params, gradients)

	expected := []float64{
		1.0 - 0.1*0.1, // 0.99
		2.0 - 0.1*0.2, // 1.98
		3.0 - 0.1*0.3, // 2.97
	}

	for i := range params {
		if math.Abs(params[i]-expected[i]) > 1e-10 {
			t.Errorf("params[%d] = %v, want %v", i, params[i], expected[i])
		}
	}
}

// TestSGDZeroLearningRate tests zero learning rate behavior.
func TestSGDZeroLearningRate(t *testing.T) {
	sgd := NewSGD(0.0)

	params := []float64{1.0, 2.0, 3.0}
	sgd.StepInPlace(0, params, []float64{1.0, 1.0, 1.0})

	for i, want := range []float64{1.0, 2.0, 3.0} {
		if params[i] != want {
			t.Errorf("With zero LR, param[%d] should not change: %v vs %v", i, params[i], want)
		}
	}
}

// TestAdamFirstStep tests that the first bias-corrected Adam step moves
// each parameter by about lr in the direction opposite to the gradient.
func TestAdamFirstStep(t *testing.T) {
	adam := NewAdam(0.01)
	params := []float64{1.0, -1.0}
	adam.StepInPlace(0, params, []float64{5.0, -0.001})

	if math.Abs(params[0]-(1.0-0.01)) > 1e-6 {
		t.Errorf("params[0] = %v, want %v", params[0], 0.99)
	}
	if math.Abs(params[1]-(-1.0+0.01)) > 1e-4 {
		t.Errorf("params[1] = %v, want %v", params[1], -0.99)
	}
}

// TestAdamGroupsAreIndependent tests that state is kept per group.
func TestAdamGroupsAreIndependent(t *testing.T) {
	adam := NewAdam(0.1)
	a := []float64{0}
	b := []float64{0}

	for i := 0; i < 5; i++ {
		adam.StepInPlace(0, a, []float64{1})
	}
	adam.StepInPlace(1, b, []float64{1})

	// A fresh group takes a full first step regardless of group 0 history.
	if math.Abs(b[0]+0.1) > 1e-6 {
		t.Errorf("group 1 after first step = %v, want -0.1", b[0])
	}
}

// TestRMSpropAccumulatorStartsAtOne tests the first RMSprop update.
func TestRMSpropAccumulatorStartsAtOne(t *testing.T) {
	r := NewRMSprop(0.01)
	params := []float64{0}
	g := 2.0
	r.StepInPlace(0, params, []float64{g})

	ms := 0.9*1 + 0.1*g*g
	want := -0.01 * g / math.Sqrt(ms+1e-10)
	if math.Abs(params[0]-want) > 1e-12 {
		t.Errorf("params[0] = %v, want %v", params[0], want)
	}
}

func TestAdagradStep(t *testing.T) {
	a := NewAdagrad(0.5)
	params := []float64{1}
	a.StepInPlace(0, params, []float64{1})
	want := 1 - 0.5*1/math.Sqrt(0.1+1)
	if math.Abs(params[0]-want) > 1e-12 {
		t.Errorf("params[0] = %v, want %v", params[0], want)
	}
}

func TestAdadeltaStep(t *testing.T) {
	a := NewAdadelta(1.0)
	params := []float64{0}
	a.StepInPlace(0, params, []float64{1})

	accum := 0.05
	want := -math.Sqrt(1e-8) / math.Sqrt(accum+1e-8)
	if math.Abs(params[0]-want) > 1e-12 {
		t.Errorf("params[0] = %v, want %v", params[0], want)
	}
}

// TestOptimizersMinimizeQuadratic runs every registered optimizer on
// f(x) = (x-3)^2 and checks progress towards the minimum.
func TestOptimizersMinimizeQuadratic(t *testing.T) {
	rates := map[string]float64{
		"sgd":      0.1,
		"adadelta": 50,
		"adagrad":  0.5,
		"adam":     0.1,
		"rmsprop":  0.05,
	}
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			o, err := New(name, rates[name])
			if err != nil {
				t.Fatal(err)
			}
			if o.Name() != name {
				t.Errorf("Name() = %q, want %q", o.Name(), name)
			}
			x := []float64{0}
			for i := 0; i < 500; i++ {
				o.StepInPlace(0, x, []float64{2 * (x[0] - 3)})
			}
			if math.Abs(x[0]-3) > 0.5 {
				t.Errorf("%s: x = %v after 500 steps, want near 3", name, x[0])
			}
		})
	}
}

func TestNewUnknownOptimizer(t *testing.T) {
	_, err := New("lbfgs", 0.1)
	if !errors.Is(err, ErrUnknownOptimizer) {
		t.Errorf("err = %v, want ErrUnknownOptimizer", err)
	}
	if _, err := New("RMSProp", 0.1); err != nil {
		t.Errorf("names should be case-insensitive: %v", err)
	}
}

func TestStepLR(t *testing.T) {
	sgd := NewSGD(1.0)
	s := NewStepLR(sgd, 2, 0.5)

	s.Step()
	if s.GetLR() != 1.0 {
		t.Errorf("lr after 1 step = %v, want 1", s.GetLR())
	}
	s.Step()
	if s.GetLR() != 0.5 {
		t.Errorf("lr after 2 steps = %v, want 0.5", s.GetLR())
	}
	s.Step()
	s.Step()
	if s.GetLR() != 0.25 {
		t.Errorf("lr after 4 steps = %v, want 0.25", s.GetLR())
	}
}
