package layer

import "golang.org/x/exp/rand"

// Dropout implements inverted dropout regularization.
// During training each input is kept with probability keepProb and scaled
// by 1/keepProb. During inference inputs pass through unchanged.
type Dropout struct {
	keepProb float64
	training bool
	size     int
	rng      *rand.Rand

	outputBuf []float64
	maskBuf   []float64 // kept-and-scaled factor per input, for backward
	gradInBuf []float64
}

// NewDropout creates a new dropout layer that keeps each unit with
// probability keepProb. keepProb 1 makes the layer an identity.
func NewDropout(keepProb float64, size int, rng *rand.Rand) *Dropout {
	if keepProb <= 0 || keepProb > 1 {
		panic("Dropout: keep probability must be in (0, 1]")
	}
	if rng == nil {
		rng = defaultRNG
	}
	return &Dropout{
		keepProb:  keepProb,
		training:  true,
		size:      size,
		rng:       rng,
		outputBuf: make([]float64, size),
		maskBuf:   make([]float64, size),
		gradInBuf: make([]float64, size),
	}
}

// SetTraining sets whether the layer should be in training or inference mode.
func (d *Dropout) SetTraining(training bool) {
	d.training = training
}

// IsTraining returns whether the layer is in training mode.
func (d *Dropout) IsTraining() bool {
	return d.training
}

// KeepProb returns the probability of keeping a unit.
func (d *Dropout) KeepProb() float64 {
	return d.keepProb
}

// Forward performs a forward pass through the dropout layer.
func (d *Dropout) Forward(x []float64) []float64 {
	scale := 1.0 / d.keepProb
	for i := range x {
		if !d.training || d.keepProb == 1 || d.rng.Float64() < d.keepProb {
			d.maskBuf[i] = 1
			if d.training {
				d.maskBuf[i] = scale
			}
		} else {
			d.maskBuf[i] = 0
		}
		d.outputBuf[i] = x[i] * d.maskBuf[i]
	}
	return d.outputBuf
}

// Backward applies the mask saved by Forward to grad.
func (d *Dropout) Backward(grad []float64) []float64 {
	for i := range grad {
		d.gradInBuf[i] = grad[i] * d.maskBuf[i]
	}
	return d.gradInBuf
}

// Params returns nil: dropout has no learnable parameters.
func (d *Dropout) Params() []float64    { return nil }
func (d *Dropout) SetParams([]float64)  {}
func (d *Dropout) Gradients() []float64 { return nil }
func (d *Dropout) ZeroGrad()            {}
func (d *Dropout) InSize() int          { return d.size }
func (d *Dropout) OutSize() int         { return d.size }

// Clone returns a dropout layer with the same keep probability and mode.
// The clone shares the random source, so callers running clones
// concurrently must use inference mode.
func (d *Dropout) Clone() Layer {
	c := NewDropout(d.keepProb, d.size, d.rng)
	c.training = d.training
	return c
}
