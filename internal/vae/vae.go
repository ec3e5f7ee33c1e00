// Package vae implements a variational autoencoder with a diagonal Gaussian
// posterior and a Bernoulli decoder, built from dense networks.
package vae

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"

	"github.com/FlavioCFOliveira/GoGenModels/internal/activations"
	"github.com/FlavioCFOliveira/GoGenModels/internal/layer"
	"github.com/FlavioCFOliveira/GoGenModels/internal/loss"
	"github.com/FlavioCFOliveira/GoGenModels/internal/net"
	"github.com/FlavioCFOliveira/GoGenModels/internal/opt"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrLatentDim is returned by LatentGrid for models whose latent space is
// not two-dimensional.
var ErrLatentDim = errors.New("latent grid requires a 2-dimensional latent space")

// evalChunk is the number of rows each Evaluate worker handles.
const evalChunk = 250

// Config describes the network shapes.
type Config struct {
	InputDim      int
	ZDim          int
	EncoderHidden []int
	DecoderHidden []int
	Activation    activations.Activation
	// KeepProb is the dropout keep probability after every hidden layer.
	KeepProb    float64
	Initializer layer.Initializer
}

// DefaultConfig returns the MNIST architecture: 784 -> 200 -> 200 -> 2.
func DefaultConfig() Config {
	return Config{
		InputDim:      784,
		ZDim:          2,
		EncoderHidden: []int{200, 200},
		DecoderHidden: []int{200, 200},
		Activation:    activations.ReLU{},
		KeepProb:      1,
		Initializer:   layer.VarianceScaling,
	}
}

func (c Config) validate() error {
	if c.InputDim <= 0 {
		return fmt.Errorf("input dim must be positive, got %d", c.InputDim)
	}
	if c.ZDim <= 0 {
		return fmt.Errorf("latent dim must be positive, got %d", c.ZDim)
	}
	if c.KeepProb <= 0 || c.KeepProb > 1 {
		return fmt.Errorf("keep prob must be in (0, 1], got %g", c.KeepProb)
	}
	for _, h := range append(append([]int(nil), c.EncoderHidden...), c.DecoderHidden...) {
		if h <= 0 {
			return fmt.Errorf("hidden sizes must be positive, got %d", h)
		}
	}
	return nil
}

// Model is a VAE. The encoder trunk feeds two linear heads producing the
// posterior mean and log-variance; the decoder maps a latent point to
// per-pixel Bernoulli logits.
type Model struct {
	*replica
	cfg Config
	opt opt.Optimizer
	rng *rand.Rand
}

// New builds a model whose weights are drawn from rng.
func New(cfg Config, o opt.Optimizer, rng *rand.Rand) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Activation == nil {
		cfg.Activation = activations.ReLU{}
	}
	if cfg.Initializer == nil {
		cfg.Initializer = layer.VarianceScaling
	}

	mlp := func(in int, hidden []int) (*net.Network, int) {
		var layers []layer.Layer
		for _, h := range hidden {
			layers = append(layers,
				layer.NewDenseWithInit(in, h, cfg.Activation, cfg.Initializer, rng),
				layer.NewDropout(cfg.KeepProb, h, rng),
			)
			in = h
		}
		return net.New(layers...), in
	}
	head := func(in, out int) *net.Network {
		return net.New(layer.NewDenseWithInit(in, out, activations.Linear{}, cfg.Initializer, rng))
	}

	encoder, trunkOut := mlp(cfg.InputDim, cfg.EncoderHidden)
	decoder, decOut := mlp(cfg.ZDim, cfg.DecoderHidden)
	decoder = net.New(append(decoder.Layers(),
		layer.NewDenseWithInit(decOut, cfg.InputDim, activations.Linear{}, cfg.Initializer, rng))...)

	m := &Model{cfg: cfg, opt: o, rng: rng}
	m.replica = newReplica(encoder, head(trunkOut, cfg.ZDim), head(trunkOut, cfg.ZDim), decoder, rng)
	return m, nil
}

// Name implements train.Model.
func (m *Model) Name() string { return "vae" }

// Config returns the architecture of m.
func (m *Model) Config() Config { return m.cfg }

// ZDim returns the latent dimension.
func (m *Model) ZDim() int { return m.cfg.ZDim }

// SetNoise replaces the standard-normal source used for the
// reparameterization and for Sample. fill must overwrite every element of dst.
func (m *Model) SetNoise(fill func(dst []float64)) { m.noise = fill }

// TrainStep implements train.Model: one optimizer update minimizing the
// negative ELBO of batch. It returns the negative ELBO before the update.
func (m *Model) TrainStep(batch [][]float64) float64 {
	if len(batch) == 0 {
		return 0
	}
	m.setTraining(true)
	m.zeroGrad()

	p := m.newPass()
	scale := 1 / float64(len(batch))
	var total float64
	for _, x := range batch {
		kl, ce := m.forward(x, p)
		total += kl + ce
		m.backward(x, p, scale)
	}

	base := 0
	for _, n := range m.networks() {
		n.Step(m.opt, base, 1)
		base += n.NumGroups()
	}
	return total * scale
}

// Evaluate implements train.Model: the mean negative ELBO over x. Rows are
// split into chunks shared out among workers, each running its own clone
// of the model.
func (m *Model) Evaluate(ctx context.Context, x [][]float64) (float64, error) {
	if len(x) == 0 {
		return 0, nil
	}
	chunks := (len(x) + evalChunk - 1) / evalChunk
	workers := evalWorkers(chunks)
	sums := make([]float64, chunks)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		r := m.clone(m.rng.Uint64())
		g.Go(func() error {
			p := r.newPass()
			for i := w; i < chunks; i += workers {
				if err := ctx.Err(); err != nil {
					return err
				}
				for _, xi := range x[i*evalChunk : min((i+1)*evalChunk, len(x))] {
					kl, ce := r.forward(xi, p)
					sums[i] += kl + ce
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return floats.Sum(sums) / float64(len(x)), nil
}

// evalWorkers is the number of model clones Evaluate uses for chunks.
func evalWorkers(chunks int) int {
	return max(1, min(runtime.NumCPU(), chunks))
}

// Inference is the result of running the full network on a batch.
type Inference struct {
	Mu     [][]float64
	LogVar [][]float64
	Z      [][]float64
	// Reconstructions are the decoder means sigmoid(logits).
	Reconstructions [][]float64
	// ELBO is -mean(KL + CE) over the batch.
	ELBO float64
}

// InferenceNetwork encodes x, samples z with the reparameterization trick
// and decodes it.
func (m *Model) InferenceNetwork(x [][]float64) Inference {
	m.setTraining(false)
	res := Inference{
		Mu:              make([][]float64, len(x)),
		LogVar:          make([][]float64, len(x)),
		Z:               make([][]float64, len(x)),
		Reconstructions: make([][]float64, len(x)),
	}
	if len(x) == 0 {
		return res
	}

	p := m.newPass()
	var total float64
	for i, xi := range x {
		kl, ce := m.forward(xi, p)
		total += kl + ce
		res.Mu[i] = append([]float64(nil), p.mu...)
		res.LogVar[i] = append([]float64(nil), p.logVar...)
		res.Z[i] = append([]float64(nil), p.z...)
		res.Reconstructions[i] = sigmoid(p.logits)
	}
	res.ELBO = -total / float64(len(x))
	return res
}

// Encode returns the posterior mean and log-variance of x.
func (m *Model) Encode(x []float64) (mu, logVar []float64) {
	m.setTraining(false)
	h := m.encoder.Forward(x)
	mu = append([]float64(nil), m.mu.Forward(h)...)
	logVar = append([]float64(nil), m.logVar.Forward(h)...)
	return mu, logVar
}

// Decode returns the Bernoulli means sigmoid(decoder(z)).
func (m *Model) Decode(z []float64) []float64 {
	if len(z) != m.cfg.ZDim {
		panic(fmt.Sprintf("vae: got latent of size %d, want %d", len(z), m.cfg.ZDim))
	}
	m.setTraining(false)
	return sigmoid(m.decoder.Forward(z))
}

// Sample draws z ~ N(0, I) and x ~ Bernoulli(sigmoid(decoder(z))) n times.
// It returns the images and their latent points.
func (m *Model) Sample(n int) ([][]float64, [][]float64) {
	images := make([][]float64, n)
	latents := make([][]float64, n)
	for i := range images {
		z := make([]float64, m.cfg.ZDim)
		m.noise(z)
		latents[i] = z

		probs := m.Decode(z)
		for j, p := range probs {
			probs[j] = distuv.Bernoulli{P: p, Src: m.rng}.Rand()
		}
		images[i] = probs
	}
	return images, latents
}

// LatentGrid decodes an n x n grid of latent points evenly spaced over
// [lo, hi] in both dimensions. Images are returned row-major; the image
// for the i-th y value and j-th x value is at row n-i-1, column j, so y
// grows upwards.
func (m *Model) LatentGrid(n int, lo, hi float64) ([][]float64, error) {
	if m.cfg.ZDim != 2 {
		return nil, fmt.Errorf("%w: model has %d", ErrLatentDim, m.cfg.ZDim)
	}
	if n <= 0 {
		return nil, fmt.Errorf("grid size must be positive, got %d", n)
	}

	values := make([]float64, n)
	if n == 1 {
		values[0] = (lo + hi) / 2
	} else {
		floats.Span(values, lo, hi)
	}

	images := make([][]float64, n*n)
	for i, y := range values {
		for j, x := range values {
			images[(n-i-1)*n+j] = m.Decode([]float64{x, y})
		}
	}
	return images, nil
}

// Summary writes the layer tables of every sub-network to w.
func (m *Model) Summary(w io.Writer) {
	m.encoder.Summary(w, "encoder")
	m.mu.Summary(w, "encoder_mu")
	m.logVar.Summary(w, "encoder_logvar")
	m.decoder.Summary(w, "decoder")
}

func sigmoid(logits []float64) []float64 {
	out := make([]float64, len(logits))
	for i, l := range logits {
		out[i] = activations.Logistic(l)
	}
	return out
}

// replica is one copy of the four networks plus a noise source. Forward
// and backward buffers live in the layers, so a replica must not be used
// from two goroutines at once.
type replica struct {
	encoder, mu, logVar, decoder *net.Network
	noise                        func(dst []float64)
}

func newReplica(encoder, mu, logVar, decoder *net.Network, rng *rand.Rand) *replica {
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	return &replica{
		encoder: encoder,
		mu:      mu,
		logVar:  logVar,
		decoder: decoder,
		noise: func(dst []float64) {
			for i := range dst {
				dst[i] = normal.Rand()
			}
		},
	}
}

// clone copies the networks in inference mode with a noise source seeded
// from seed.
func (r *replica) clone(seed uint64) *replica {
	c := newReplica(r.encoder.Clone(), r.mu.Clone(), r.logVar.Clone(), r.decoder.Clone(),
		rand.New(rand.NewSource(seed)))
	c.setTraining(false)
	return c
}

func (r *replica) networks() []*net.Network {
	return []*net.Network{r.encoder, r.mu, r.logVar, r.decoder}
}

func (r *replica) setTraining(training bool) {
	for _, n := range r.networks() {
		n.SetTraining(training)
	}
}

func (r *replica) zeroGrad() {
	for _, n := range r.networks() {
		n.ZeroGrad()
	}
}

// pass holds the per-sample intermediate values shared by forward and backward.
type pass struct {
	mu, logVar, std, eps, z []float64
	logits, gradLogits      []float64
	gradMu, gradLogVar      []float64
	gradH                   []float64
}

func (r *replica) newPass() *pass {
	zDim := r.mu.OutSize()
	xDim := r.decoder.OutSize()
	return &pass{
		mu:         make([]float64, zDim),
		logVar:     make([]float64, zDim),
		std:        make([]float64, zDim),
		eps:        make([]float64, zDim),
		z:          make([]float64, zDim),
		logits:     make([]float64, xDim),
		gradLogits: make([]float64, xDim),
		gradMu:     make([]float64, zDim),
		gradLogVar: make([]float64, zDim),
		gradH:      make([]float64, r.mu.InSize()),
	}
}

var reconstruction = loss.BCEWithLogitsLoss{Reduction: loss.Sum}

// forward runs one sample through the model and returns the KL divergence
// and the reconstruction cross entropy. Their sum is the negative ELBO.
func (r *replica) forward(x []float64, p *pass) (kl, ce float64) {
	h := r.encoder.Forward(x)
	copy(p.mu, r.mu.Forward(h))
	copy(p.logVar, r.logVar.Forward(h))

	r.noise(p.eps)
	for i := range p.z {
		p.std[i] = math.Exp(0.5 * p.logVar[i])
		p.z[i] = p.mu[i] + p.std[i]*p.eps[i]
	}
	copy(p.logits, r.decoder.Forward(p.z))

	return loss.GaussianKL(p.mu, p.logVar), reconstruction.Forward(p.logits, x)
}

// backward accumulates scale * d(KL+CE)/dparams for the sample last passed
// to forward.
func (r *replica) backward(x []float64, p *pass, scale float64) {
	reconstruction.BackwardInPlace(p.logits, x, p.gradLogits)
	floats.Scale(scale, p.gradLogits)

	dz := r.decoder.Backward(p.gradLogits)
	for i := range dz {
		p.gradMu[i] = dz[i]
		p.gradLogVar[i] = dz[i] * p.eps[i] * 0.5 * p.std[i]
	}
	loss.GaussianKLBackward(p.mu, p.logVar, p.gradMu, p.gradLogVar, scale)

	copy(p.gradH, r.mu.Backward(p.gradMu))
	floats.Add(p.gradH, r.logVar.Backward(p.gradLogVar))
	r.encoder.Backward(p.gradH)
}
