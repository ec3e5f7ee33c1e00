// Package layer provides unit tests for neural network layers.
package layer

import (
	"math"
	"testing"

	"github.com/FlavioCFOliveira/GoGenModels/internal/activations"
	"golang.org/x/exp/rand"
)

func TestDenseForward(t *testing.T) {
	// 2 inputs -> 2 outputs with identity weights
	d := NewDense(2, 2, activations.Tanh{})

	d.SetParams([]float64{
		1, 0, // weights row 0
		0, 1, // weights row 1
		0, 0, // biases
	})

	output := d.Forward([]float64{1.0, 2.0})

	if math.Abs(output[0]-math.Tanh(1.0)) > 1e-12 {
		t.Errorf("output[0] = %v, want %v", output[0], math.Tanh(1.0))
	}
	if math.Abs(output[1]-math.Tanh(2.0)) > 1e-12 {
		t.Errorf("output[1] = %v, want %v", output[1], math.Tanh(2.0))
	}
}

// TestDenseBackwardMatchesFiniteDifference checks input and parameter
// gradients of L = sum(w_o * y_o) against central differences.
func TestDenseBackwardMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	d := NewDenseWithInit(3, 4, activations.Tanh{}, GlorotUniform, rng)
	x := []float64{0.3, -0.7, 1.1}
	upstream := []float64{0.5, -1.0, 2.0, 0.25}

	lossAt := func() float64 {
		out := d.Forward(x)
		sum := 0.0
		for i := range out {
			sum += upstream[i] * out[i]
		}
		return sum
	}

	d.ZeroGrad()
	lossAt()
	gradIn := append([]float64(nil), d.Backward(upstream)...)
	gradParams := append([]float64(nil), d.Gradients()...)

	const h = 1e-6
	for i := range x {
		orig := x[i]
		x[i] = orig + h
		plus := lossAt()
		x[i] = orig - h
		minus := lossAt()
		x[i] = orig
		numeric := (plus - minus) / (2 * h)
		if math.Abs(numeric-gradIn[i]) > 1e-6 {
			t.Errorf("dL/dx[%d] = %v, numeric %v", i, gradIn[i], numeric)
		}
	}

	params := d.Params()
	for i := range params {
		orig := params[i]
		params[i] = orig + h
		plus := lossAt()
		params[i] = orig - h
		minus := lossAt()
		params[i] = orig
		numeric := (plus - minus) / (2 * h)
		if math.Abs(numeric-gradParams[i]) > 1e-6 {
			t.Errorf("dL/dp[%d] = %v, numeric %v", i, gradParams[i], numeric)
		}
	}
}

// TestDenseGradientsAccumulate tests that Backward adds into the
// accumulator until ZeroGrad.
func TestDenseGradientsAccumulate(t *testing.T) {
	d := NewDense(2, 1, activations.Linear{})
	x := []float64{1, 2}

	d.Forward(x)
	d.Backward([]float64{1})
	once := append([]float64(nil), d.Gradients()...)

	d.Forward(x)
	d.Backward([]float64{1})
	for i, g := range d.Gradients() {
		if math.Abs(g-2*once[i]) > 1e-12 {
			t.Errorf("grad[%d] = %v, want %v", i, g, 2*once[i])
		}
	}

	d.ZeroGrad()
	for i, g := range d.Gradients() {
		if g != 0 {
			t.Errorf("grad[%d] = %v after ZeroGrad", i, g)
		}
	}
}

// TestDenseParamsAreLive tests that writes to Params() reach the layer.
func TestDenseParamsAreLive(t *testing.T) {
	d := NewDense(2, 2, activations.Linear{})
	params := d.Params()
	if len(params) != 2*2+2 {
		t.Fatalf("len(params) = %d, want 6", len(params))
	}
	params[0] = 42
	params[len(params)-1] = -3
	// y_1 = w10*x0 + w11*x1 + b1
	if out := d.Forward([]float64{1, 0}); out[0] != 42+params[4] || out[1] != params[2]-3 {
		t.Errorf("output = %v after editing params %v", out, params)
	}

	d.SetParams([]float64{1, 2, 3, 4, 5, 6})
	if out := d.Forward([]float64{1, 0}); out[0] != 1+5 || out[1] != 3+6 {
		t.Errorf("SetParams did not map weights then biases: %v", out)
	}
}

func TestDenseCloneIsIndependent(t *testing.T) {
	d := NewDense(2, 2, activations.ReLU{})
	c := d.Clone().(*Dense)

	for i, p := range d.Params() {
		if c.Params()[i] != p {
			t.Fatalf("clone param %d = %v, want %v", i, c.Params()[i], p)
		}
	}
	c.Params()[0] += 1
	if c.Params()[0] == d.Params()[0] {
		t.Error("clone shares parameter memory with original")
	}
}

func TestDenseZeroBiases(t *testing.T) {
	d := NewDense(5, 3, activations.ReLU{})
	biases := d.Params()[5*3:]
	for i, b := range biases {
		if b != 0 {
			t.Errorf("bias[%d] = %v, want 0", i, b)
		}
	}
}

func TestInitializers(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	w := make([]float64, 1000)

	GlorotUniform(w, 600, 400, rng)
	limit := math.Sqrt(6.0 / 1000)
	for i, v := range w {
		if math.Abs(v) > limit {
			t.Fatalf("glorot weight %d = %v exceeds limit %v", i, v, limit)
		}
	}

	VarianceScaling(w, 100, 10, rng)
	bound := 2 * math.Sqrt(1.0/100) / 0.87962566103423978
	for i, v := range w {
		if math.Abs(v) > bound {
			t.Fatalf("variance scaling weight %d = %v exceeds %v", i, v, bound)
		}
	}

	Zeros(w, 1, 1, rng)
	for i, v := range w {
		if v != 0 {
			t.Fatalf("zeros weight %d = %v", i, v)
		}
	}

	if _, err := InitializerByName("orthogonal"); err == nil {
		t.Error("expected error for unknown initializer")
	}
}
