package train

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/FlavioCFOliveira/GoGenModels/internal/dataset"
	"github.com/FlavioCFOliveira/GoGenModels/internal/opt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModel returns a loss that decreases with every train step.
type fakeModel struct {
	steps     int
	evals     int
	saved     []string
	evalErr   error
	batchRows int
}

func (m *fakeModel) Name() string { return "fake" }

func (m *fakeModel) TrainStep(batch [][]float64) float64 {
	m.steps++
	m.batchRows = len(batch)
	return 10.0 / float64(m.steps)
}

func (m *fakeModel) Evaluate(ctx context.Context, x [][]float64) (float64, error) {
	m.evals++
	if m.evalErr != nil {
		return 0, m.evalErr
	}
	return 20.0 / float64(m.steps), nil
}

func (m *fakeModel) Save(filename string) error {
	m.saved = append(m.saved, filename)
	return os.WriteFile(filename, []byte("ok"), 0644)
}

func newLoop(m Model, steps, every int, cbs ...Callback) *Loop {
	data := [][]float64{{0}, {1}, {2}, {3}, {4}, {5}, {6}, {7}, {8}, {9}}
	return &Loop{
		Model:     m,
		Batches:   dataset.NewIterator(data, 3, nil),
		Test:      data[:2],
		Steps:     steps,
		TestEvery: every,
		Callbacks: cbs,
	}
}

func TestSteps(t *testing.T) {
	assert.Equal(t, 11000, Steps(20, 55000, 100))
	assert.Equal(t, 2, Steps(1, 5, 2))
	assert.Equal(t, 0, Steps(0, 55000, 100))
}

func TestLoopEvaluatesOnInterval(t *testing.T) {
	m := &fakeModel{}
	var steps []int
	h, err := newLoop(m, 10, 4, EvaluateFunc(func(ev Evaluation, _ Model) {
		steps = append(steps, ev.Step)
	})).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, m.steps)
	assert.Equal(t, 3, m.batchRows)
	assert.Equal(t, []int{0, 4, 8}, steps)
	assert.Equal(t, 3, m.evals)
	assert.Equal(t, 9, h.LastStep)
	require.Len(t, h.Evaluations, 3)
	assert.Equal(t, 10, h.Evaluations[0].Steps)
	assert.Equal(t, 3, h.Evaluations[0].BatchSize)
	// 3, 15 and 27 rows drawn from 10 images
	assert.Equal(t, []int{0, 1, 2}, []int{h.Evaluations[0].Epoch, h.Evaluations[1].Epoch, h.Evaluations[2].Epoch})
	assert.InDelta(t, 10.0/5, h.Evaluations[1].TrainLoss, 1e-12)
	assert.InDelta(t, 20.0/5, h.Evaluations[1].TestLoss, 1e-12)
}

func TestLoopRejectsEmptyRun(t *testing.T) {
	_, err := newLoop(&fakeModel{}, 0, 1).Run(context.Background())
	assert.ErrorIs(t, err, ErrNoSteps)

	_, err = newLoop(&fakeModel{}, 3, 0).Run(context.Background())
	assert.Error(t, err)
}

func TestLoopStopsOnCancel(t *testing.T) {
	m := &fakeModel{}
	ctx, cancel := context.WithCancel(context.Background())
	ended := false

	loop := newLoop(m, 100, 1000,
		&cancelAfter{n: 5, cancel: cancel},
		EndFunc(func(Model, *History) { ended = true }),
	)
	h, err := loop.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, m.steps)
	assert.Equal(t, 4, h.LastStep)
	assert.True(t, ended, "OnTrainEnd must run after cancellation")
}

type cancelAfter struct {
	BaseCallback
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) OnStepEnd(step int, _ float64, _ Model) {
	if step+1 == c.n {
		c.cancel()
	}
}

func TestLoopPropagatesEvaluateError(t *testing.T) {
	boom := errors.New("boom")
	_, err := newLoop(&fakeModel{evalErr: boom}, 5, 1).Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCSVLogger(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "log.csv")
	_, err := newLoop(&fakeModel{}, 4, 2, NewCSVLogger(filename, false)).Run(context.Background())
	require.NoError(t, err)

	file, err := os.Open(filename)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3) // header + steps 0 and 2
	assert.Equal(t, []string{"step", "train_loss", "test_loss", "time_seconds"}, records[0])
	assert.Equal(t, "0", records[1][0])
	assert.Equal(t, "10.000000", records[1][1])
	assert.Equal(t, "20.000000", records[1][2])
	assert.Equal(t, "2", records[2][0])
}

func TestModelCheckpointSavesOnImprovement(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "model.gob")
	m := &fakeModel{}
	_, err := newLoop(m, 6, 2, NewModelCheckpoint(filename)).Run(context.Background())
	require.NoError(t, err)

	// test loss 20/1, 20/3, 20/5 strictly decreases
	assert.Len(t, m.saved, 3)
	assert.FileExists(t, filename)
}

func TestModelCheckpointSkipsNonFiniteLoss(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "model.gob")
	m := &fakeModel{}
	c := NewModelCheckpoint(filename)

	c.OnEvaluate(Evaluation{TestLoss: math.NaN()}, m)
	c.OnEvaluate(Evaluation{TestLoss: math.Inf(-1)}, m)
	assert.Empty(t, m.saved)

	c.OnEvaluate(Evaluation{TestLoss: 5}, m)
	c.OnEvaluate(Evaluation{TestLoss: math.NaN()}, m)
	c.OnEvaluate(Evaluation{TestLoss: 6}, m)
	assert.Len(t, m.saved, 1)

	c.OnEvaluate(Evaluation{TestLoss: 4}, m)
	assert.Len(t, m.saved, 2)
}

func TestLoggerWritesTrainStepLine(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	Logger{}.OnEvaluate(Evaluation{Step: 0, Steps: 550, Epoch: 2, BatchSize: 100, TrainLoss: 543.2, TestLoss: 544.5}, &fakeModel{})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Train Step 0001/0550", line["message"])
	assert.Equal(t, "fake", line["model"])
	assert.EqualValues(t, 100, line["batch_size"])
	assert.EqualValues(t, 2, line["epoch"])
	assert.InDelta(t, 543.2, line["train_loss"], 1e-9)
	assert.InDelta(t, 544.5, line["test_loss"], 1e-9)
}

func TestSchedulerCallback(t *testing.T) {
	sgd := opt.NewSGD(1.0)
	_, err := newLoop(&fakeModel{}, 4, 10, NewSchedulerCallback(opt.NewStepLR(sgd, 2, 0.1))).Run(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.01, sgd.LearningRate(), 1e-12)
}
