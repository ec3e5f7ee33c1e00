// Package genmodels trains the generative models on binarized MNIST and
// writes their logs, plots and checkpoints to a per-run directory.
package genmodels

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/FlavioCFOliveira/GoGenModels/internal/config"
	"github.com/FlavioCFOliveira/GoGenModels/internal/dataset"
	"github.com/FlavioCFOliveira/GoGenModels/internal/metrics"
	"github.com/FlavioCFOliveira/GoGenModels/internal/plot"
	"github.com/FlavioCFOliveira/GoGenModels/internal/train"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
)

// sampleCols is the number of columns in sample grids.
const sampleCols = 4

// Run is the output directory of one training run.
type Run struct {
	ID      string
	Dir     string
	Started time.Time
}

// NewRun creates <outDir>/<timestamp>-<id>.
func NewRun(outDir string, now time.Time) (*Run, error) {
	id := uuid.NewString()[:8]
	dir := filepath.Join(outDir, now.Format("20060102-150405")+"-"+id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	return &Run{ID: id, Dir: dir, Started: now}, nil
}

// Path returns the location of name inside the run directory.
func (r *Run) Path(name string) string {
	return filepath.Join(r.Dir, name)
}

// Result is returned by the training entry points.
type Result struct {
	Run     *Run
	History *train.History
}

// LoadData loads the training data and binarizes every split. MNIST is
// downloaded into cfg.DataDir unless cfg.TrainCSV and cfg.TestCSV name
// CSV files to read instead.
func LoadData(ctx context.Context, cfg *config.Config) (*dataset.MNIST, error) {
	var (
		data *dataset.MNIST
		err  error
	)
	if cfg.TrainCSV != "" {
		data, err = loadCSVData(cfg)
	} else {
		data, err = dataset.LoadMNIST(ctx, cfg.DataDir, dataset.Options{
			BaseURL:        cfg.BaseURL,
			ValidationSize: dataset.DefaultValidationSize,
		})
	}
	if err != nil {
		return nil, err
	}
	for _, s := range []*dataset.Set{data.Train, data.Validation, data.Test} {
		s.Binarize(cfg.BinarizeThreshold)
	}
	log.Debug().
		Float64("train_pixel_mean", data.Train.MeanPixel()).
		Float64("test_pixel_mean", data.Test.MeanPixel()).
		Msg("binarized images")
	return data, nil
}

// loadCSVData reads the CSV train and test files. There is no validation split.
func loadCSVData(cfg *config.Config) (*dataset.MNIST, error) {
	if cfg.TestCSV == "" {
		return nil, fmt.Errorf("train_csv and test_csv must be set together")
	}
	train, err := dataset.LoadCSV(cfg.TrainCSV, cfg.CSVLabelColumn, cfg.CSVHeader)
	if err != nil {
		return nil, fmt.Errorf("train csv: %w", err)
	}
	test, err := dataset.LoadCSV(cfg.TestCSV, cfg.CSVLabelColumn, cfg.CSVHeader)
	if err != nil {
		return nil, fmt.Errorf("test csv: %w", err)
	}
	if train.Dims() != test.Dims() {
		return nil, fmt.Errorf("train images have %d pixels, test images %d", train.Dims(), test.Dims())
	}
	log.Info().
		Int("train", train.Len()).
		Int("test", test.Len()).
		Str("train_csv", cfg.TrainCSV).
		Msg("loaded CSV images")
	return &dataset.MNIST{Train: train, Validation: &dataset.Set{Rows: train.Rows, Cols: train.Cols}, Test: test}, nil
}

func newRNG(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	log.Debug().Uint64("seed", seed).Msg("random source")
	return rand.New(rand.NewSource(seed))
}

// session bundles what both training programs share.
type session struct {
	cfg  *config.Config
	run  *Run
	data *dataset.MNIST
	rng  *rand.Rand
}

func newSession(cfg *config.Config, data *dataset.MNIST) (*session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if data.Train.Len() == 0 || data.Test.Len() == 0 {
		return nil, dataset.ErrEmpty
	}
	run, err := NewRun(cfg.OutDir, time.Now())
	if err != nil {
		return nil, err
	}
	if err := cfg.Save(run.Path("config.yaml")); err != nil {
		return nil, err
	}
	log.Info().Str("dir", run.Dir).Msg("run directory created")
	return &session{cfg: cfg, run: run, data: data, rng: newRNG(cfg.Seed)}, nil
}

// side is the width of the square images in the data.
func (s *session) side() int {
	if s.data.Train.Rows > 0 {
		return s.data.Train.Rows
	}
	return 28
}

// batches iterates over the training images, reshuffling every pass
// when configured.
func (s *session) batches(batchSize int) *dataset.Iterator {
	var rng *rand.Rand
	if s.cfg.Shuffle {
		rng = s.rng
	}
	return dataset.NewIterator(s.data.Train.Images, batchSize, rng)
}

// fit runs the loop for model with the shared callbacks, serving metrics
// while it runs when configured, and plots the loss curve at the end.
func (s *session) fit(ctx context.Context, model train.Model, l *train.Loop) (*Result, error) {
	l.Model = model
	l.Test = s.data.Test.Images
	l.Callbacks = append([]train.Callback{
		train.Logger{},
		train.NewCSVLogger(s.run.Path("history.csv"), false),
	}, l.Callbacks...)
	if s.cfg.Checkpoint {
		l.Callbacks = append(l.Callbacks, train.NewModelCheckpoint(s.run.Path(model.Name()+".gob")))
	}

	var h *train.History
	err := withMetrics(ctx, s.cfg.MetricsAddr, func(ctx context.Context, reg prometheus.Registerer) error {
		if reg != nil {
			o, err := metrics.NewObserver(reg)
			if err != nil {
				return err
			}
			l.Callbacks = append(l.Callbacks, o)
		}
		var err error
		h, err = l.Run(ctx)
		return err
	})
	if h != nil && len(h.Evaluations) > 0 {
		points := make([]plot.Point, len(h.Evaluations))
		for i, ev := range h.Evaluations {
			points[i] = plot.Point{Step: ev.Step, Train: ev.TrainLoss, Test: ev.TestLoss}
		}
		if perr := plot.LossCurve(s.run.Path("loss.png"), model.Name(), points); perr != nil {
			log.Error().Err(perr).Msg("failed to plot loss curve")
		}
	}
	return &Result{Run: s.run, History: h}, err
}

// withMetrics calls fn with a registry that is served on addr for as long
// as fn runs. With an empty addr fn gets a nil registry.
func withMetrics(ctx context.Context, addr string, fn func(context.Context, prometheus.Registerer) error) error {
	if addr == "" {
		return fn(ctx, nil)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stop := context.WithCancel(gctx)
	g.Go(func() error {
		return metrics.Serve(serveCtx, ln, reg)
	})
	g.Go(func() error {
		defer stop()
		return fn(gctx, reg)
	})
	return g.Wait()
}

// saveGrid writes images as a labelled grid to the run directory.
func (s *session) saveGrid(name string, images [][]float64, labels []string) {
	opts := plot.DefaultOptions
	opts.Side = s.side()
	img, err := plot.Grid(images, labels, sampleCols, opts)
	if err == nil {
		err = plot.SavePNG(s.run.Path(name), img)
	}
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("failed to save plot")
	}
}
