// Package train runs the minibatch training loop shared by the generative
// models and dispatches evaluations to callbacks.
package train

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FlavioCFOliveira/GoGenModels/internal/dataset"
	"github.com/rs/zerolog/log"
)

// Model is a trainable generative model. Losses are the quantity being
// minimized, i.e. a negative log-likelihood or a negative ELBO.
type Model interface {
	Name() string
	// TrainStep performs one optimizer update on batch and returns the
	// batch loss before the update.
	TrainStep(batch [][]float64) float64
	// Evaluate returns the mean loss over x without updating parameters.
	Evaluate(ctx context.Context, x [][]float64) (float64, error)
}

// Evaluation is the record produced every TestEvery steps.
type Evaluation struct {
	Step      int // zero-based
	Steps     int
	Epoch     int // completed passes over the training data
	BatchSize int
	TrainLoss float64
	TestLoss  float64
	Time      time.Time
}

// History collects every evaluation of a run.
type History struct {
	Evaluations []Evaluation
	// LastStep is the index of the last completed step, -1 if none.
	LastStep int
}

// Steps returns int(epochs * n / batchSize), the number of minibatches in
// a run of the given length.
func Steps(epochs float64, n, batchSize int) int {
	return int(epochs * float64(n) / float64(batchSize))
}

// Loop trains a model on repeating minibatches.
type Loop struct {
	Model     Model
	Batches   *dataset.Iterator
	Test      [][]float64
	Steps     int
	TestEvery int
	Callbacks []Callback
}

// ErrNoSteps is returned when the configured run has no steps.
var ErrNoSteps = errors.New("training run has no steps")

// Run executes Steps training steps. On steps where step%TestEvery == 0
// the test loss is computed and OnEvaluate fires. Cancelling ctx stops
// the loop after the current step; OnTrainEnd still runs.
func (l *Loop) Run(ctx context.Context) (*History, error) {
	if l.Steps <= 0 {
		return nil, ErrNoSteps
	}
	if l.TestEvery <= 0 {
		return nil, fmt.Errorf("test interval must be positive, got %d", l.TestEvery)
	}

	h := &History{LastStep: -1}
	for _, c := range l.Callbacks {
		c.OnTrainBegin(l.Model, l.Steps)
	}
	defer func() {
		for _, c := range l.Callbacks {
			c.OnTrainEnd(l.Model, h)
		}
	}()

	log.Info().
		Str("model", l.Model.Name()).
		Int("steps", l.Steps).
		Int("batch_size", l.Batches.BatchSize()).
		Msg("training started")

	for step := 0; step < l.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return h, err
		}

		trainLoss := l.Model.TrainStep(l.Batches.Next())
		h.LastStep = step
		for _, c := range l.Callbacks {
			c.OnStepEnd(step, trainLoss, l.Model)
		}

		if step%l.TestEvery != 0 {
			continue
		}

		testLoss, err := l.Model.Evaluate(ctx, l.Test)
		if err != nil {
			return h, fmt.Errorf("evaluate at step %d: %w", step, err)
		}
		ev := Evaluation{
			Step:      step,
			Steps:     l.Steps,
			Epoch:     l.Batches.Epoch(),
			BatchSize: l.Batches.BatchSize(),
			TrainLoss: trainLoss,
			TestLoss:  testLoss,
			Time:      time.Now(),
		}
		h.Evaluations = append(h.Evaluations, ev)
		for _, c := range l.Callbacks {
			c.OnEvaluate(ev, l.Model)
		}
	}

	return h, nil
}
