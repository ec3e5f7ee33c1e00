package genmodels

import (
	"context"
	"fmt"
	"strconv"

	"github.com/FlavioCFOliveira/GoGenModels/internal/config"
	"github.com/FlavioCFOliveira/GoGenModels/internal/dataset"
	"github.com/FlavioCFOliveira/GoGenModels/internal/naivebayes"
	"github.com/FlavioCFOliveira/GoGenModels/internal/opt"
	"github.com/FlavioCFOliveira/GoGenModels/internal/train"
	"github.com/rs/zerolog/log"
)

// TrainNaiveBayes trains the naive-Bayes mixture on MNIST. Every
// evaluation saves NB_<step>.png with samples labelled by their latent
// category; NB_means.png shows every category's pixel means at the end.
func TrainNaiveBayes(ctx context.Context, cfg *config.Config) (*Result, error) {
	data, err := LoadData(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return trainNaiveBayes(ctx, cfg, data)
}

func trainNaiveBayes(ctx context.Context, cfg *config.Config, data *dataset.MNIST) (*Result, error) {
	s, err := newSession(cfg, data)
	if err != nil {
		return nil, err
	}
	c := cfg.NaiveBayes

	o, err := opt.New(c.Optimizer, c.LearningRate)
	if err != nil {
		return nil, err
	}
	model := naivebayes.New(c.Categories, data.Train.Dims(), c.InitialMag, o, s.rng)
	log.Info().
		Int("categories", c.Categories).
		Str("optimizer", o.Name()).
		Float64("learning_rate", c.LearningRate).
		Msg("naive bayes model created")

	var callbacks []train.Callback
	if c.PlotSamples > 0 {
		callbacks = append(callbacks, train.EvaluateFunc(func(ev train.Evaluation, _ train.Model) {
			samples, latents := model.Sample(c.PlotSamples)
			labels := make([]string, len(latents))
			for i, z := range latents {
				labels[i] = strconv.Itoa(z)
			}
			s.saveGrid(fmt.Sprintf("NB_%d.png", ev.Step), samples, labels)
		}))
	}
	callbacks = append(callbacks, train.EndFunc(func(train.Model, *train.History) {
		means := make([][]float64, model.Categories())
		labels := make([]string, len(means))
		for k := range means {
			means[k] = model.Probabilities(k)
			labels[k] = strconv.Itoa(k)
		}
		s.saveGrid("NB_means.png", means, labels)
	}))

	return s.fit(ctx, model, &train.Loop{
		Batches:   s.batches(c.BatchSize),
		Steps:     train.Steps(c.Epochs, data.Train.Len(), c.BatchSize),
		TestEvery: c.TestEvery,
		Callbacks: callbacks,
	})
}
