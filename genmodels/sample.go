package genmodels

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/FlavioCFOliveira/GoGenModels/internal/config"
	"github.com/FlavioCFOliveira/GoGenModels/internal/naivebayes"
	"github.com/FlavioCFOliveira/GoGenModels/internal/opt"
	"github.com/FlavioCFOliveira/GoGenModels/internal/plot"
	"github.com/FlavioCFOliveira/GoGenModels/internal/vae"
	"github.com/rs/zerolog/log"
)

// SampleCheckpoint loads a model saved by a run with checkpoints enabled
// and writes n samples from it to out as a grid. kind is "naive_bayes" or
// "vae"; when empty it is taken from the checkpoint file name.
func SampleCheckpoint(cfg *config.Config, checkpoint, kind string, n int, out string) error {
	if n <= 0 {
		return fmt.Errorf("sample count must be positive, got %d", n)
	}
	if kind == "" {
		kind = strings.TrimSuffix(filepath.Base(checkpoint), filepath.Ext(checkpoint))
	}
	rng := newRNG(cfg.Seed)

	var (
		images [][]float64
		labels []string
	)
	switch kind {
	case "naive_bayes":
		o, err := opt.New(cfg.NaiveBayes.Optimizer, cfg.NaiveBayes.LearningRate)
		if err != nil {
			return err
		}
		model, err := naivebayes.Load(checkpoint, o, rng)
		if err != nil {
			return err
		}
		var latents []int
		images, latents = model.Sample(n)
		labels = make([]string, len(latents))
		for i, z := range latents {
			labels[i] = strconv.Itoa(z)
		}
	case "vae":
		o, err := opt.New(cfg.VAE.Optimizer, cfg.VAE.LearningRate)
		if err != nil {
			return err
		}
		model, err := vae.Load(checkpoint, o, rng)
		if err != nil {
			return err
		}
		images, _ = model.Sample(n)
		labels = indexLabels(n)
	default:
		return fmt.Errorf("unknown model %q: want naive_bayes or vae", kind)
	}

	opts := plot.DefaultOptions
	opts.Side = int(math.Sqrt(float64(len(images[0]))))
	img, err := plot.Grid(images, labels, sampleCols, opts)
	if err != nil {
		return err
	}
	if err := plot.SavePNG(out, img); err != nil {
		return err
	}
	log.Info().
		Str("model", kind).
		Str("checkpoint", checkpoint).
		Int("samples", n).
		Str("file", out).
		Msg("samples saved")
	return nil
}

// indexLabels returns "0" .. "n-1".
func indexLabels(n int) []string {
	labels := make([]string, n)
	for i := range labels {
		labels[i] = strconv.Itoa(i)
	}
	return labels
}
