// Package naivebayes implements a mixture of K independent-Bernoulli pixel
// models trained by gradient ascent on the marginal log-likelihood.
//
// Parameters:
//
//	W[k,j]  log-odds contribution of category k to pixel j
//	B[k]    unnormalized log prior of category k
//	C[j]    log-odds shared by every category for pixel j
//
// p(z=k) = softmax(B)[k] and p(x_j=1 | z=k) = sigmoid(W[k,j] + C[j]).
package naivebayes

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"runtime"

	"github.com/FlavioCFOliveira/GoGenModels/internal/activations"
	"github.com/FlavioCFOliveira/GoGenModels/internal/loss"
	"github.com/FlavioCFOliveira/GoGenModels/internal/opt"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Optimizer groups used by TrainStep.
const (
	groupW = iota
	groupB
	groupC
)

// Model is a naive-Bayes mixture over binary images.
type Model struct {
	k, d    int
	w, b, c []float64

	gradW, gradB, gradC []float64

	opt opt.Optimizer
	rng *rand.Rand
}

// New creates a model with K categories over D pixels. W is drawn from
// N(0, initialMag^2); B and C start at zero.
func New(k, d int, initialMag float64, o opt.Optimizer, rng *rand.Rand) *Model {
	if k <= 0 || d <= 0 {
		panic("naivebayes: categories and dimensions must be positive")
	}
	m := &Model{
		k:     k,
		d:     d,
		w:     make([]float64, k*d),
		b:     make([]float64, k),
		c:     make([]float64, d),
		gradW: make([]float64, k*d),
		gradB: make([]float64, k),
		gradC: make([]float64, d),
		opt:   o,
		rng:   rng,
	}
	if initialMag > 0 {
		n := distuv.Normal{Mu: 0, Sigma: initialMag, Src: rng}
		for i := range m.w {
			m.w[i] = n.Rand()
		}
	}
	return m
}

// Name implements train.Model.
func (m *Model) Name() string { return "naive_bayes" }

// Categories returns K.
func (m *Model) Categories() int { return m.k }

// Dims returns D.
func (m *Model) Dims() int { return m.d }

// W returns row k of W.
func (m *Model) W(k int) []float64 { return m.w[k*m.d : (k+1)*m.d] }

// B returns the prior logits.
func (m *Model) B() []float64 { return m.b }

// C returns the shared pixel log-odds.
func (m *Model) C() []float64 { return m.c }

// tables holds quantities derived from the parameters once per pass.
type tables struct {
	logits   []float64 // W + C, K x D
	base     []float64 // sum_j log p(x_j=0 | z=k)
	logPrior []float64 // log softmax(B)
}

func (m *Model) tables() *tables {
	t := &tables{
		logits:   make([]float64, m.k*m.d),
		base:     make([]float64, m.k),
		logPrior: activations.LogSoftmax(nil, m.b),
	}
	for k := 0; k < m.k; k++ {
		row := t.logits[k*m.d : (k+1)*m.d]
		floats.AddTo(row, m.W(k), m.c)
		for _, l := range row {
			t.base[k] += loss.BernoulliLogProb(0, l)
		}
	}
	return t
}

// logPXGivenZ writes log p(x | z=k) for every k into dst.
//
// log p(x|z=k) = sum_j x_j*logsig(l_kj) + (1-x_j)*logsig(-l_kj)
//              = base_k + sum_j x_j * l_kj
func (t *tables) logPXGivenZ(dst, x []float64, d int) {
	for k := range dst {
		dst[k] = t.base[k] + floats.Dot(x, t.logits[k*d:(k+1)*d])
	}
}

// LogPXGivenZ returns an (n, K) matrix whose [i][k] entry is log p(x_i | z=k).
func (m *Model) LogPXGivenZ(x [][]float64) [][]float64 {
	t := m.tables()
	out := make([][]float64, len(x))
	for i, xi := range x {
		m.checkDims(xi)
		out[i] = make([]float64, m.k)
		t.logPXGivenZ(out[i], xi, m.d)
	}
	return out
}

// LogPX returns log p(x_i) = logsumexp_k(log p(z=k) + log p(x_i|z=k)) for every row.
func (m *Model) LogPX(x [][]float64) []float64 {
	t := m.tables()
	out := make([]float64, len(x))
	joint := make([]float64, m.k)
	for i, xi := range x {
		m.checkDims(xi)
		t.logPXGivenZ(joint, xi, m.d)
		floats.Add(joint, t.logPrior)
		out[i] = floats.LogSumExp(joint)
	}
	return out
}

// Posterior returns p(z | x) for a single image.
func (m *Model) Posterior(x []float64) []float64 {
	m.checkDims(x)
	t := m.tables()
	joint := make([]float64, m.k)
	t.logPXGivenZ(joint, x, m.d)
	floats.Add(joint, t.logPrior)
	return activations.Softmax(joint, joint)
}

// Loss returns -mean(log p(x)).
func (m *Model) Loss(x [][]float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return -floats.Sum(m.LogPX(x)) / float64(len(x))
}

// Backward computes the gradients of Loss(x) into the model's gradient
// buffers and returns the loss.
//
// With responsibilities r_k = p(z=k | x):
//
//	dlogp/dW[k,j] = r_k (x_j - sigmoid(W[k,j]+C[j]))
//	dlogp/dC[j]   = sum_k r_k (x_j - sigmoid(W[k,j]+C[j]))
//	dlogp/dB[k]   = r_k - softmax(B)[k]
func (m *Model) Backward(x [][]float64) float64 {
	for _, g := range [][]float64{m.gradW, m.gradB, m.gradC} {
		for i := range g {
			g[i] = 0
		}
	}
	if len(x) == 0 {
		return 0
	}

	t := m.tables()
	probs := make([]float64, len(t.logits))
	for i, l := range t.logits {
		probs[i] = activations.Logistic(l)
	}
	prior := activations.Softmax(nil, m.b)

	scale := -1.0 / float64(len(x))
	resp := make([]float64, m.k)
	var total float64
	for _, xi := range x {
		m.checkDims(xi)
		t.logPXGivenZ(resp, xi, m.d)
		floats.Add(resp, t.logPrior)
		total += floats.LogSumExp(resp)
		activations.Softmax(resp, resp)

		for k, r := range resp {
			m.gradB[k] += scale * (r - prior[k])
			if r == 0 {
				continue
			}
			gw := m.gradW[k*m.d : (k+1)*m.d]
			pk := probs[k*m.d : (k+1)*m.d]
			for j := range gw {
				g := scale * r * (xi[j] - pk[j])
				gw[j] += g
				m.gradC[j] += g
			}
		}
	}
	return -total / float64(len(x))
}

// Gradients returns the buffers filled by Backward, aligned with W, B and C.
func (m *Model) Gradients() (gradW, gradB, gradC []float64) {
	return m.gradW, m.gradB, m.gradC
}

// TrainStep implements train.Model.
func (m *Model) TrainStep(batch [][]float64) float64 {
	l := m.Backward(batch)
	m.opt.StepInPlace(groupW, m.w, m.gradW)
	m.opt.StepInPlace(groupB, m.b, m.gradB)
	m.opt.StepInPlace(groupC, m.c, m.gradC)
	return l
}

// Evaluate implements train.Model. Rows are split across CPUs.
func (m *Model) Evaluate(ctx context.Context, x [][]float64) (float64, error) {
	if len(x) == 0 {
		return 0, nil
	}
	workers := runtime.NumCPU()
	if workers > len(x) {
		workers = len(x)
	}
	chunk := (len(x) + workers - 1) / workers
	sums := make([]float64, workers)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		start := w * chunk
		end := start + chunk
		if end > len(x) {
			end = len(x)
		}
		if start >= end {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sums[w] = floats.Sum(m.LogPX(x[start:end]))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return -floats.Sum(sums) / float64(len(x)), nil
}

// Probabilities returns sigmoid(W[k] + C), the pixel means of category k.
func (m *Model) Probabilities(k int) []float64 {
	p := make([]float64, m.d)
	floats.AddTo(p, m.W(k), m.c)
	for j := range p {
		p[j] = activations.Logistic(p[j])
	}
	return p
}

// Sample draws n images. Each draws z from the learned prior softmax(B)
// and then every pixel from Bernoulli(sigmoid(W[z]+C)). It returns the
// images and the sampled categories.
func (m *Model) Sample(n int) ([][]float64, []int) {
	prior := activations.Softmax(nil, m.b)
	cat := distuv.NewCategorical(prior, m.rng)

	samples := make([][]float64, n)
	latents := make([]int, n)
	for i := range samples {
		z := int(cat.Rand())
		latents[i] = z
		probs := m.Probabilities(z)
		img := make([]float64, m.d)
		for j, p := range probs {
			img[j] = distuv.Bernoulli{P: p, Src: m.rng}.Rand()
		}
		samples[i] = img
	}
	return samples, latents
}

func (m *Model) checkDims(x []float64) {
	if len(x) != m.d {
		panic(fmt.Sprintf("naivebayes: got %d dims, want %d", len(x), m.d))
	}
}

type snapshot struct {
	K, D    int
	W, B, C []float64
}

// Save writes the parameters to filename using gob encoding.
// Optimizer state is not saved.
func (m *Model) Save(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	s := snapshot{K: m.k, D: m.d, W: m.w, B: m.b, C: m.c}
	if err := gob.NewEncoder(file).Encode(s); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	return nil
}

// Load reads a model written by Save. o and rng are used for further
// training and sampling.
func Load(filename string, o opt.Optimizer, rng *rand.Rand) (*Model, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var s snapshot
	if err := gob.NewDecoder(file).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if len(s.W) != s.K*s.D || len(s.B) != s.K || len(s.C) != s.D {
		return nil, fmt.Errorf("corrupt model: K=%d D=%d with %d/%d/%d params", s.K, s.D, len(s.W), len(s.B), len(s.C))
	}

	m := New(s.K, s.D, 0, o, rng)
	copy(m.w, s.W)
	copy(m.b, s.B)
	copy(m.c, s.C)
	return m, nil
}
