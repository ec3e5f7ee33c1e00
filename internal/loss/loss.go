// Package loss provides the per-sample objectives of the generative models.
package loss

import (
	"math"

	"github.com/FlavioCFOliveira/GoGenModels/internal/activations"
)

// Reduction selects how per-element losses are combined.
type Reduction int

const (
	// Mean averages over elements.
	Mean Reduction = iota
	// Sum adds over elements; the VAE reconstruction term uses this.
	Sum
)

// BCEWithLogitsLoss is binary cross entropy on logits, i.e. the negative
// Bernoulli log-likelihood of yTrue under sigmoid(yPred).
type BCEWithLogitsLoss struct {
	Reduction Reduction
}

// Forward computes sum_i max(x,0) - x*y + log(1+exp(-|x|)), reduced.
func (b BCEWithLogitsLoss) Forward(yPred, yTrue []float64) float64 {
	n := len(yPred)
	if n != len(yTrue) {
		panic("BCEWithLogitsLoss: prediction and target must have same length")
	}

	var sum float64
	for i := 0; i < n; i++ {
		x := yPred[i]
		sum += math.Max(x, 0) - x*yTrue[i] + math.Log1p(math.Exp(-math.Abs(x)))
	}
	return b.reduce(sum, n)
}

// BackwardInPlace stores the gradient sigmoid(x) - y, reduced, in grad.
func (b BCEWithLogitsLoss) BackwardInPlace(yPred, yTrue, grad []float64) {
	n := len(yPred)
	if n != len(yTrue) || n != len(grad) {
		panic("BCEWithLogitsLoss: slices must have same length")
	}

	for i := 0; i < n; i++ {
		grad[i] = b.reduce(activations.Logistic(yPred[i])-yTrue[i], n)
	}
}

func (b BCEWithLogitsLoss) reduce(v float64, n int) float64 {
	if b.Reduction == Sum || n == 0 {
		return v
	}
	return v / float64(n)
}

// BernoulliLogProb returns log p(x | logit) = x*logsigmoid(l) + (1-x)*logsigmoid(-l).
// x is expected in {0, 1} but any value in [0, 1] is accepted.
func BernoulliLogProb(x, logit float64) float64 {
	return x*activations.LogSigmoid(logit) + (1-x)*activations.LogSigmoid(-logit)
}

// GaussianKL returns KL(N(mu, exp(logVar)) || N(0, I)):
//
//	-0.5 * sum(1 + logVar - mu^2 - exp(logVar))
func GaussianKL(mu, logVar []float64) float64 {
	if len(mu) != len(logVar) {
		panic("GaussianKL: mean and log-variance must have same length")
	}
	var sum float64
	for i := range mu {
		sum += 1 + logVar[i] - mu[i]*mu[i] - math.Exp(logVar[i])
	}
	return -0.5 * sum
}

// GaussianKLBackward adds the KL gradients scaled by scale into gradMu and
// gradLogVar: d/dmu = mu, d/dlogVar = 0.5*(exp(logVar)-1).
func GaussianKLBackward(mu, logVar, gradMu, gradLogVar []float64, scale float64) {
	for i := range mu {
		gradMu[i] += scale * mu[i]
		gradLogVar[i] += scale * 0.5 * (math.Exp(logVar[i]) - 1)
	}
}
