package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/FlavioCFOliveira/GoGenModels/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	verbose     bool
	dataDir     string
	outDir      string
	metricsAddr string
	seed        uint64

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "genmodels",
	Short: "Train generative models on binarized MNIST",
	Long: `genmodels trains a naive-Bayes mixture or a variational autoencoder
on binarized MNIST, logging train and test loss every few steps and saving
sample plots to a fresh run directory under the output directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("data-dir") {
			cfg.DataDir = dataDir
		}
		if flags.Changed("out-dir") {
			cfg.OutDir = outDir
		}
		if flags.Changed("metrics-addr") {
			cfg.MetricsAddr = metricsAddr
		}
		if flags.Changed("seed") {
			cfg.Seed = seed
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		return setupLogging(cfg.Logging)
	},
}

func setupLogging(c config.LoggingConfig) error {
	level := zerolog.InfoLevel
	if c.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(strings.ToLower(c.Level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
	}
	zerolog.SetGlobalLevel(level)

	if c.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "genmodels.yaml", "path to the YAML configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory caching the MNIST archives")
	rootCmd.PersistentFlags().StringVar(&outDir, "out-dir", "", "directory receiving run outputs")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().Uint64Var(&seed, "seed", 0, "random seed (0 picks one from the clock)")

	rootCmd.AddCommand(naiveBayesCmd(), vaeCmd(), sampleCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("genmodels failed")
		stop()
		os.Exit(1)
	}
}
