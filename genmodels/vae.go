package genmodels

import (
	"bytes"
	"context"
	"fmt"

	"github.com/FlavioCFOliveira/GoGenModels/internal/activations"
	"github.com/FlavioCFOliveira/GoGenModels/internal/config"
	"github.com/FlavioCFOliveira/GoGenModels/internal/dataset"
	"github.com/FlavioCFOliveira/GoGenModels/internal/layer"
	"github.com/FlavioCFOliveira/GoGenModels/internal/opt"
	"github.com/FlavioCFOliveira/GoGenModels/internal/plot"
	"github.com/FlavioCFOliveira/GoGenModels/internal/train"
	"github.com/FlavioCFOliveira/GoGenModels/internal/vae"
	"github.com/rs/zerolog/log"
)

// Latent grids span [-latentRange, latentRange] in both dimensions.
const latentRange = 3.0

// TrainVAE trains the variational autoencoder on MNIST. Every evaluation
// saves VAE_<step>.png with decoder samples; after training a 2-D model
// also saves Latent_Space_<step>.png.
func TrainVAE(ctx context.Context, cfg *config.Config) (*Result, error) {
	data, err := LoadData(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return trainVAE(ctx, cfg, data)
}

func trainVAE(ctx context.Context, cfg *config.Config, data *dataset.MNIST) (*Result, error) {
	s, err := newSession(cfg, data)
	if err != nil {
		return nil, err
	}
	c := cfg.VAE

	act, err := activations.ByName(c.HiddenActivation)
	if err != nil {
		return nil, err
	}
	initializer, err := layer.InitializerByName(c.KernelInitializer)
	if err != nil {
		return nil, err
	}
	o, err := opt.New(c.Optimizer, c.LearningRate)
	if err != nil {
		return nil, err
	}
	model, err := vae.New(vae.Config{
		InputDim:      data.Train.Dims(),
		ZDim:          c.ZDim,
		EncoderHidden: c.EncoderHidden,
		DecoderHidden: c.DecoderHidden,
		Activation:    act,
		KeepProb:      c.KeepProb,
		Initializer:   initializer,
	}, o, s.rng)
	if err != nil {
		return nil, err
	}
	if e := log.Debug(); e.Enabled() {
		var buf bytes.Buffer
		model.Summary(&buf)
		e.Msg("vae architecture\n" + buf.String())
	}

	var callbacks []train.Callback
	if c.LRDecayEvery > 0 {
		callbacks = append(callbacks, train.NewSchedulerCallback(opt.NewStepLR(o, c.LRDecayEvery, c.LRDecayGamma)))
	}
	if c.PlotSamples > 0 {
		callbacks = append(callbacks, train.EvaluateFunc(func(ev train.Evaluation, _ train.Model) {
			samples, _ := model.Sample(c.PlotSamples)
			s.saveGrid(fmt.Sprintf("VAE_%d.png", ev.Step), samples, indexLabels(len(samples)))
		}))
	}
	if c.ZDim == 2 && c.LatentGridSize > 0 {
		callbacks = append(callbacks, train.EndFunc(func(_ train.Model, h *train.History) {
			if h.LastStep < 0 {
				return
			}
			s.saveLatentSpace(model, c.LatentGridSize, h.LastStep)
		}))
	}

	return s.fit(ctx, model, &train.Loop{
		Batches:   s.batches(c.BatchSize),
		Steps:     train.Steps(c.Epochs, data.Train.Len(), c.BatchSize),
		TestEvery: c.TestEvery,
		Callbacks: callbacks,
	})
}

func (s *session) saveLatentSpace(model *vae.Model, n, step int) {
	name := fmt.Sprintf("Latent_Space_%d.png", step)
	images, err := model.LatentGrid(n, -latentRange, latentRange)
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("failed to decode latent grid")
		return
	}
	canvas, err := plot.Canvas(images, n, s.side())
	if err == nil {
		err = plot.SavePNG(s.run.Path(name), canvas)
	}
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("failed to save plot")
	}
}
