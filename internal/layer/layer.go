// Package layer provides neural network layer implementations.
package layer

import (
	"github.com/FlavioCFOliveira/GoGenModels/internal/activations"
	"golang.org/x/exp/rand"
)

// Layer is a neural network layer.
//
// Forward caches whatever Backward needs, so Backward must follow the
// Forward call for the same sample. Gradients accumulate across Backward
// calls until ZeroGrad.
type Layer interface {
	Forward(x []float64) []float64
	Backward(grad []float64) []float64
	// Params returns the live parameter slice; optimizers update it in place.
	Params() []float64
	SetParams([]float64)
	// Gradients returns the live gradient accumulator, aligned with Params.
	Gradients() []float64
	ZeroGrad()
	InSize() int
	OutSize() int
	// Clone returns an independent copy with its own buffers, for use on
	// another goroutine.
	Clone() Layer
}

// Dense is a fully connected layer optimized for performance.
// Uses contiguous memory layout with pre-allocated buffers for minimal allocations.
type Dense struct {
	// params holds weights then biases.
	// Weight for output i, input j is at params[i*in + j].
	params  []float64
	weights []float64
	biases  []float64
	act     activations.Activation
	outSize int
	inSize  int

	grads []float64
	gradW []float64
	gradB []float64

	// Reusable buffers
	inputBuf  []float64
	outputBuf []float64
	preActBuf []float64
	gradInBuf []float64
}

// NewDense creates a new dense layer with Glorot-uniform weights and zero biases.
func NewDense(in, out int, act activations.Activation) *Dense {
	d := newDense(in, out, act)
	GlorotUniform(d.weights, in, out, defaultRNG)
	return d
}

// NewDenseWithInit creates a dense layer whose weights are drawn by init from rng.
func NewDenseWithInit(in, out int, act activations.Activation, init Initializer, rng *rand.Rand) *Dense {
	d := newDense(in, out, act)
	init(d.weights, in, out, rng)
	return d
}

func newDense(in, out int, act activations.Activation) *Dense {
	params := make([]float64, out*in+out)
	grads := make([]float64, out*in+out)
	return &Dense{
		params:    params,
		weights:   params[:out*in],
		biases:    params[out*in:],
		act:       act,
		outSize:   out,
		inSize:    in,
		grads:     grads,
		gradW:     grads[:out*in],
		gradB:     grads[out*in:],
		inputBuf:  make([]float64, in),
		outputBuf: make([]float64, out),
		preActBuf: make([]float64, out),
		gradInBuf: make([]float64, in),
	}
}

// Forward performs a forward pass through the dense layer.
func (d *Dense) Forward(x []float64) []float64 {
	if len(x) != d.inSize {
		panic("Dense: input size mismatch")
	}
	copy(d.inputBuf, x)

	inSize := d.inSize
	weights := d.weights
	input := d.inputBuf

	for o := 0; o < d.outSize; o++ {
		sum := d.biases[o]
		wBase := o * inSize
		for i := 0; i < inSize; i++ {
			sum += weights[wBase+i] * input[i]
		}
		d.preActBuf[o] = sum
		d.outputBuf[o] = d.act.Activate(sum)
	}

	return d.outputBuf
}

// Backward accumulates parameter gradients and returns dL/dx.
func (d *Dense) Backward(grad []float64) []float64 {
	inSize := d.inSize
	weights := d.weights
	input := d.inputBuf
	gradW := d.gradW
	gradIn := d.gradInBuf

	for i := range gradIn {
		gradIn[i] = 0
	}

	for o := 0; o < d.outSize; o++ {
		dz := grad[o] * d.act.Derivative(d.preActBuf[o])
		if dz == 0 {
			continue
		}
		d.gradB[o] += dz
		wBase := o * inSize
		for i := 0; i < inSize; i++ {
			gradW[wBase+i] += dz * input[i]
			gradIn[i] += dz * weights[wBase+i]
		}
	}

	return gradIn
}

// Params returns weights and biases as one live slice.
func (d *Dense) Params() []float64 {
	return d.params
}

// SetParams updates weights and biases from a flattened slice (in-place).
func (d *Dense) SetParams(params []float64) {
	copy(d.params, params)
}

// Gradients returns the accumulated weight and bias gradients.
func (d *Dense) Gradients() []float64 {
	return d.grads
}

// ZeroGrad resets the gradient accumulator.
func (d *Dense) ZeroGrad() {
	for i := range d.grads {
		d.grads[i] = 0
	}
}

// Clone returns a copy of the layer sharing no memory with d.
func (d *Dense) Clone() Layer {
	c := newDense(d.inSize, d.outSize, d.act)
	copy(c.params, d.params)
	return c
}

// InSize returns the input size of the layer.
func (d *Dense) InSize() int {
	return d.inSize
}

// OutSize returns the output size of the layer.
func (d *Dense) OutSize() int {
	return d.outSize
}

// Activation returns the activation function used by this layer.
func (d *Dense) Activation() activations.Activation {
	return d.act
}
