package train

import (
	"math"

	"github.com/FlavioCFOliveira/GoGenModels/internal/opt"
	"github.com/rs/zerolog/log"
)

// Callback defines the interface for training callbacks.
type Callback interface {
	OnTrainBegin(m Model, steps int)
	OnTrainEnd(m Model, h *History)
	OnStepEnd(step int, trainLoss float64, m Model)
	OnEvaluate(ev Evaluation, m Model)
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (c BaseCallback) OnTrainBegin(m Model, steps int)                {}
func (c BaseCallback) OnTrainEnd(m Model, h *History)                 {}
func (c BaseCallback) OnStepEnd(step int, trainLoss float64, m Model) {}
func (c BaseCallback) OnEvaluate(ev Evaluation, m Model)              {}

// EvaluateFunc adapts a function to a Callback that only observes evaluations.
type EvaluateFunc func(ev Evaluation, m Model)

func (f EvaluateFunc) OnTrainBegin(m Model, steps int)                {}
func (f EvaluateFunc) OnTrainEnd(m Model, h *History)                 {}
func (f EvaluateFunc) OnStepEnd(step int, trainLoss float64, m Model) {}
func (f EvaluateFunc) OnEvaluate(ev Evaluation, m Model)              { f(ev, m) }

// EndFunc adapts a function to a Callback that only runs when training ends.
type EndFunc func(m Model, h *History)

func (f EndFunc) OnTrainBegin(m Model, steps int)                {}
func (f EndFunc) OnTrainEnd(m Model, h *History)                 { f(m, h) }
func (f EndFunc) OnStepEnd(step int, trainLoss float64, m Model) {}
func (f EndFunc) OnEvaluate(ev Evaluation, m Model)              {}

// SchedulerCallback advances a learning rate scheduler after every step.
type SchedulerCallback struct {
	BaseCallback
	scheduler opt.Scheduler
}

func NewSchedulerCallback(scheduler opt.Scheduler) *SchedulerCallback {
	return &SchedulerCallback{scheduler: scheduler}
}

func (c *SchedulerCallback) OnStepEnd(step int, trainLoss float64, m Model) {
	c.scheduler.Step()
}

// Saver is implemented by models that can persist themselves.
type Saver interface {
	Save(filename string) error
}

// ModelCheckpoint saves the model whenever the test loss improves.
type ModelCheckpoint struct {
	BaseCallback
	Filename string

	bestLoss float64
}

func NewModelCheckpoint(filename string) *ModelCheckpoint {
	return &ModelCheckpoint{
		Filename: filename,
		bestLoss: math.Inf(1),
	}
}

func (c *ModelCheckpoint) OnEvaluate(ev Evaluation, m Model) {
	if math.IsNaN(ev.TestLoss) || math.IsInf(ev.TestLoss, 0) || ev.TestLoss >= c.bestLoss {
		return
	}
	s, ok := m.(Saver)
	if !ok {
		log.Warn().Str("model", m.Name()).Msg("model does not support checkpoints")
		return
	}
	c.bestLoss = ev.TestLoss
	if err := s.Save(c.Filename); err != nil {
		log.Error().Err(err).Str("file", c.Filename).Msg("error saving checkpoint")
		return
	}
	log.Info().Float64("test_loss", ev.TestLoss).Str("file", c.Filename).Msg("checkpoint saved: test loss is new best")
}

// Logger logs every evaluation.
type Logger struct {
	BaseCallback
}

func (c Logger) OnEvaluate(ev Evaluation, m Model) {
	log.Info().
		Str("model", m.Name()).
		Int("epoch", ev.Epoch).
		Int("batch_size", ev.BatchSize).
		Float64("train_loss", ev.TrainLoss).
		Float64("test_loss", ev.TestLoss).
		Msgf("Train Step %04d/%04d", ev.Step+1, ev.Steps)
}
