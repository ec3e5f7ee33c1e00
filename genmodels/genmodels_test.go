package genmodels

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/FlavioCFOliveira/GoGenModels/internal/config"
	"github.com/FlavioCFOliveira/GoGenModels/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tinyMNIST builds 4x4 binary images: vertical and horizontal bars.
func tinyMNIST() *dataset.MNIST {
	bar := func(i int) []float64 {
		img := make([]float64, 16)
		for k := 0; k < 4; k++ {
			if i%2 == 0 {
				img[k*4+i%4] = 1
			} else {
				img[(i%4)*4+k] = 1
			}
		}
		return img
	}
	set := func(n int) *dataset.Set {
		s := &dataset.Set{Rows: 4, Cols: 4}
		for i := 0; i < n; i++ {
			s.Images = append(s.Images, bar(i))
			s.Labels = append(s.Labels, i%2)
		}
		return s
	}
	return &dataset.MNIST{Train: set(12), Validation: set(2), Test: set(4)}
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.OutDir = t.TempDir()
	cfg.Seed = 1
	cfg.Checkpoint = true

	cfg.NaiveBayes.Categories = 3
	cfg.NaiveBayes.Epochs = 2
	cfg.NaiveBayes.BatchSize = 4
	cfg.NaiveBayes.TestEvery = 2
	cfg.NaiveBayes.PlotSamples = 4

	cfg.VAE.EncoderHidden = []int{5}
	cfg.VAE.DecoderHidden = []int{5}
	cfg.VAE.Epochs = 1
	cfg.VAE.BatchSize = 4
	cfg.VAE.TestEvery = 1
	cfg.VAE.PlotSamples = 4
	cfg.VAE.LatentGridSize = 3
	cfg.VAE.LRDecayEvery = 1
	return cfg
}

func TestNewRun(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	run, err := NewRun(dir, now)
	require.NoError(t, err)

	assert.Len(t, run.ID, 8)
	assert.Equal(t, filepath.Join(dir, "20240301-123000-"+run.ID), run.Dir)
	assert.DirExists(t, run.Dir)
	assert.Equal(t, filepath.Join(run.Dir, "loss.png"), run.Path("loss.png"))
}

func TestTrainNaiveBayes(t *testing.T) {
	cfg := testConfig(t)
	res, err := trainNaiveBayes(context.Background(), cfg, tinyMNIST())
	require.NoError(t, err)

	require.Len(t, res.History.Evaluations, 3)
	assert.Equal(t, 5, res.History.LastStep)
	for _, name := range []string{
		"NB_0.png", "NB_2.png", "NB_4.png", "NB_means.png",
		"loss.png", "history.csv", "config.yaml", "naive_bayes.gob",
	} {
		assert.FileExists(t, res.Run.Path(name))
	}

	saved, err := config.Load(res.Run.Path("config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, saved.NaiveBayes.Categories)
}

func TestTrainVAE(t *testing.T) {
	cfg := testConfig(t)
	res, err := trainVAE(context.Background(), cfg, tinyMNIST())
	require.NoError(t, err)

	require.Len(t, res.History.Evaluations, 3)
	for _, name := range []string{
		"VAE_0.png", "VAE_1.png", "VAE_2.png", "Latent_Space_2.png",
		"loss.png", "history.csv", "vae.gob",
	} {
		assert.FileExists(t, res.Run.Path(name))
	}
}

func TestTrainVAESkipsLatentSpaceForWideLatents(t *testing.T) {
	cfg := testConfig(t)
	cfg.VAE.ZDim = 3
	res, err := trainVAE(context.Background(), cfg, tinyMNIST())
	require.NoError(t, err)
	assert.NoFileExists(t, res.Run.Path("Latent_Space_2.png"))
}

func TestTrainServesMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricsAddr = "127.0.0.1:0"
	_, err := trainNaiveBayes(context.Background(), cfg, tinyMNIST())
	assert.NoError(t, err)
}

func TestTrainRejectsInvalidInput(t *testing.T) {
	cfg := testConfig(t)
	cfg.NaiveBayes.Categories = 0
	_, err := trainNaiveBayes(context.Background(), cfg, tinyMNIST())
	assert.Error(t, err)

	empty := tinyMNIST()
	empty.Test = &dataset.Set{}
	_, err = trainVAE(context.Background(), testConfig(t), empty)
	assert.ErrorIs(t, err, dataset.ErrEmpty)
}

func TestTrainStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := trainNaiveBayes(ctx, testConfig(t), tinyMNIST())
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, -1, res.History.LastStep)
}

func TestSampleCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	nb, err := trainNaiveBayes(context.Background(), cfg, tinyMNIST())
	require.NoError(t, err)
	v, err := trainVAE(context.Background(), testConfig(t), tinyMNIST())
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "nb.png")
	require.NoError(t, SampleCheckpoint(cfg, nb.Run.Path("naive_bayes.gob"), "", 4, out))
	assert.FileExists(t, out)

	out = filepath.Join(t.TempDir(), "vae.png")
	require.NoError(t, SampleCheckpoint(cfg, v.Run.Path("vae.gob"), "vae", 6, out))
	assert.FileExists(t, out)

	assert.Error(t, SampleCheckpoint(cfg, nb.Run.Path("naive_bayes.gob"), "gan", 4, out))
	assert.Error(t, SampleCheckpoint(cfg, nb.Run.Path("naive_bayes.gob"), "", 0, out))
	assert.Error(t, SampleCheckpoint(cfg, filepath.Join(t.TempDir(), "vae.gob"), "", 4, out))
}

func TestLoadDataFromCSV(t *testing.T) {
	dir := t.TempDir()
	trainCSV := filepath.Join(dir, "train.csv")
	testCSV := filepath.Join(dir, "test.csv")
	require.NoError(t, os.WriteFile(trainCSV, []byte("label,a,b,c,d\n1,0,255,200,10\n2,255,255,0,0\n"), 0644))
	require.NoError(t, os.WriteFile(testCSV, []byte("label,a,b,c,d\n3,90,160,0,255\n"), 0644))

	cfg := testConfig(t)
	cfg.TrainCSV = trainCSV
	cfg.TestCSV = testCSV
	cfg.CSVHeader = true
	data, err := LoadData(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, data.Train.Len())
	assert.Equal(t, 0, data.Validation.Len())
	assert.Equal(t, []float64{0, 1, 1, 0}, data.Train.Images[0])
	assert.Equal(t, []float64{0, 1, 0, 1}, data.Test.Images[0])
	assert.Equal(t, []int{3}, data.Test.Labels)
	assert.Equal(t, 2, data.Train.Rows)

	res, err := trainNaiveBayes(context.Background(), cfg, data)
	require.NoError(t, err)
	assert.FileExists(t, res.Run.Path("NB_0.png"))

	cfg.TestCSV = ""
	_, err = LoadData(context.Background(), cfg)
	assert.Error(t, err)
}
