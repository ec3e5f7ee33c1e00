// Package config holds the hyperparameters of both training programs.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/FlavioCFOliveira/GoGenModels/internal/activations"
	"github.com/FlavioCFOliveira/GoGenModels/internal/layer"
	"github.com/FlavioCFOliveira/GoGenModels/internal/opt"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	// DataDir caches the MNIST archives.
	DataDir string `yaml:"data_dir"`
	// BaseURL is where missing MNIST archives are downloaded from.
	BaseURL string `yaml:"base_url"`
	// OutDir receives one sub-directory per run.
	OutDir string `yaml:"out_dir"`
	// Seed for every random source. 0 picks a seed from the clock.
	Seed uint64 `yaml:"seed"`
	// MetricsAddr serves Prometheus metrics when not empty, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
	// Checkpoint saves the model whenever the test loss improves.
	Checkpoint bool `yaml:"checkpoint"`
	// Shuffle reshuffles the training images on every pass over them.
	Shuffle bool `yaml:"shuffle"`
	// BinarizeThreshold maps pixels above it to 1 and the rest to 0.
	BinarizeThreshold float64 `yaml:"binarize_threshold"`
	// TrainCSV and TestCSV replace MNIST with images read from CSV files.
	// Both must be set together.
	TrainCSV string `yaml:"train_csv"`
	TestCSV  string `yaml:"test_csv"`
	// CSVLabelColumn is the label column of the CSV files, -1 for none.
	CSVLabelColumn int `yaml:"csv_label_column"`
	// CSVHeader skips the first line of each CSV file.
	CSVHeader bool `yaml:"csv_header"`

	NaiveBayes NaiveBayesConfig `yaml:"naive_bayes"`
	VAE        VAEConfig        `yaml:"vae"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// NaiveBayesConfig configures the naive-Bayes mixture run.
type NaiveBayesConfig struct {
	Categories   int     `yaml:"n_categories"`
	InitialMag   float64 `yaml:"initial_mag"`
	Optimizer    string  `yaml:"optimizer"`
	LearningRate float64 `yaml:"learning_rate"`
	Epochs       float64 `yaml:"n_epochs"`
	TestEvery    int     `yaml:"test_every"`
	BatchSize    int     `yaml:"minibatch_size"`
	PlotSamples  int     `yaml:"plot_n_samples"`
}

// VAEConfig configures the variational autoencoder run.
type VAEConfig struct {
	ZDim              int     `yaml:"z_dim"`
	KernelInitializer string  `yaml:"kernel_initializer"`
	Optimizer         string  `yaml:"optimizer"`
	LearningRate      float64 `yaml:"learning_rate"`
	Epochs            float64 `yaml:"n_epochs"`
	TestEvery         int     `yaml:"test_every"`
	BatchSize         int     `yaml:"minibatch_size"`
	EncoderHidden     []int   `yaml:"encoder_hidden_sizes"`
	DecoderHidden     []int   `yaml:"decoder_hidden_sizes"`
	HiddenActivation  string  `yaml:"hidden_activation"`
	KeepProb          float64 `yaml:"keep_prob"`
	LatentGridSize    int     `yaml:"latent_grid_size"`
	PlotSamples       int     `yaml:"plot_n_samples"`
	// LRDecayEvery and LRDecayGamma enable a step learning-rate schedule
	// when LRDecayEvery > 0.
	LRDecayEvery int     `yaml:"lr_decay_every"`
	LRDecayGamma float64 `yaml:"lr_decay_gamma"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// DefaultConfig returns the settings of the reference MNIST experiments.
func DefaultConfig() *Config {
	return &Config{
		DataDir:           "/tmp/data/",
		BaseURL:           "https://ossci-datasets.s3.amazonaws.com/mnist/",
		OutDir:            "./plots/",
		BinarizeThreshold: 0.5,
		NaiveBayes: NaiveBayesConfig{
			Categories:   20,
			InitialMag:   0.01,
			Optimizer:    "rmsprop",
			LearningRate: 0.01,
			Epochs:       20,
			TestEvery:    100,
			BatchSize:    100,
			PlotSamples:  16,
		},
		VAE: VAEConfig{
			ZDim:              2,
			KernelInitializer: "variance_scaling",
			Optimizer:         "adam",
			LearningRate:      0.001,
			Epochs:            20,
			TestEvery:         1000,
			BatchSize:         100,
			EncoderHidden:     []int{200, 200},
			DecoderHidden:     []int{200, 200},
			HiddenActivation:  "relu",
			KeepProb:          1,
			LatentGridSize:    20,
			PlotSamples:       20,
			LRDecayGamma:      0.5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("GENMODELS_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if dir := os.Getenv("GENMODELS_OUT_DIR"); dir != "" {
		c.OutDir = dir
	}
	if addr := os.Getenv("GENMODELS_METRICS_ADDR"); addr != "" {
		c.MetricsAddr = addr
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.OutDir == "" {
		return fmt.Errorf("out_dir must be set")
	}
	if (c.TrainCSV == "") != (c.TestCSV == "") {
		return fmt.Errorf("train_csv and test_csv must be set together")
	}
	if c.CSVLabelColumn < -1 {
		return fmt.Errorf("csv_label_column must be -1 or a column index, got %d", c.CSVLabelColumn)
	}
	if err := c.NaiveBayes.Validate(); err != nil {
		return fmt.Errorf("naive_bayes: %w", err)
	}
	if err := c.VAE.Validate(); err != nil {
		return fmt.Errorf("vae: %w", err)
	}
	return nil
}

// Validate checks the naive-Bayes settings.
func (c NaiveBayesConfig) Validate() error {
	if c.Categories <= 0 {
		return fmt.Errorf("n_categories must be positive, got %d", c.Categories)
	}
	if c.InitialMag < 0 {
		return fmt.Errorf("initial_mag must not be negative, got %g", c.InitialMag)
	}
	if _, err := opt.New(c.Optimizer, c.LearningRate); err != nil {
		return err
	}
	return validateRun(c.LearningRate, c.Epochs, c.TestEvery, c.BatchSize, c.PlotSamples)
}

// Validate checks the VAE settings.
func (c VAEConfig) Validate() error {
	if c.ZDim <= 0 {
		return fmt.Errorf("z_dim must be positive, got %d", c.ZDim)
	}
	if _, err := layer.InitializerByName(c.KernelInitializer); err != nil {
		return err
	}
	if _, err := opt.New(c.Optimizer, c.LearningRate); err != nil {
		return err
	}
	if _, err := activations.ByName(c.HiddenActivation); err != nil {
		return err
	}
	for _, h := range append(append([]int(nil), c.EncoderHidden...), c.DecoderHidden...) {
		if h <= 0 {
			return fmt.Errorf("hidden sizes must be positive, got %d", h)
		}
	}
	if c.KeepProb <= 0 || c.KeepProb > 1 {
		return fmt.Errorf("keep_prob must be in (0, 1], got %g", c.KeepProb)
	}
	if c.LatentGridSize < 0 {
		return fmt.Errorf("latent_grid_size must not be negative, got %d", c.LatentGridSize)
	}
	if c.LRDecayEvery < 0 || (c.LRDecayEvery > 0 && (c.LRDecayGamma <= 0 || c.LRDecayGamma > 1)) {
		return fmt.Errorf("lr decay needs lr_decay_every >= 0 and lr_decay_gamma in (0, 1]")
	}
	return validateRun(c.LearningRate, c.Epochs, c.TestEvery, c.BatchSize, c.PlotSamples)
}

func validateRun(lr, epochs float64, testEvery, batchSize, plotSamples int) error {
	if lr <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %g", lr)
	}
	if epochs <= 0 {
		return fmt.Errorf("n_epochs must be positive, got %g", epochs)
	}
	if testEvery <= 0 {
		return fmt.Errorf("test_every must be positive, got %d", testEvery)
	}
	if batchSize <= 0 {
		return fmt.Errorf("minibatch_size must be positive, got %d", batchSize)
	}
	if plotSamples < 0 {
		return fmt.Errorf("plot_n_samples must not be negative, got %d", plotSamples)
	}
	return nil
}
