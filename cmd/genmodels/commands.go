package main

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/FlavioCFOliveira/GoGenModels/genmodels"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// nbFlags mirror the naive-Bayes hyperparameters.
type nbFlags struct {
	categories   int
	initialMag   float64
	optimizer    string
	learningRate float64
	epochs       float64
	testEvery    int
	batchSize    int
	plotSamples  int
}

func naiveBayesCmd() *cobra.Command {
	var f nbFlags
	cmd := &cobra.Command{
		Use:     "naivebayes",
		Aliases: []string{"nb"},
		Short:   "Train the naive-Bayes mixture model",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &cfg.NaiveBayes
			flags := cmd.Flags()
			if flags.Changed("categories") {
				c.Categories = f.categories
			}
			if flags.Changed("initial-mag") {
				c.InitialMag = f.initialMag
			}
			if flags.Changed("optimizer") {
				c.Optimizer = f.optimizer
			}
			if flags.Changed("learning-rate") {
				c.LearningRate = f.learningRate
			}
			if flags.Changed("epochs") {
				c.Epochs = f.epochs
			}
			if flags.Changed("test-every") {
				c.TestEvery = f.testEvery
			}
			if flags.Changed("batch-size") {
				c.BatchSize = f.batchSize
			}
			if flags.Changed("plot-samples") {
				c.PlotSamples = f.plotSamples
			}
			return report(genmodels.TrainNaiveBayes(cmd.Context(), cfg))
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&f.categories, "categories", 20, "number of latent categories")
	flags.Float64Var(&f.initialMag, "initial-mag", 0.01, "scale of the initial weights")
	flags.StringVar(&f.optimizer, "optimizer", "rmsprop", "sgd, adadelta, adagrad, adam or rmsprop")
	flags.Float64Var(&f.learningRate, "learning-rate", 0.01, "optimizer learning rate")
	flags.Float64Var(&f.epochs, "epochs", 20, "passes over the training set")
	flags.IntVar(&f.testEvery, "test-every", 100, "evaluate the test loss every N steps")
	flags.IntVar(&f.batchSize, "batch-size", 100, "minibatch size")
	flags.IntVar(&f.plotSamples, "plot-samples", 16, "samples drawn for every plot")
	return cmd
}

// vaeFlags mirror the VAE hyperparameters.
type vaeFlags struct {
	zDim          int
	initializer   string
	optimizer     string
	learningRate  float64
	epochs        float64
	testEvery     int
	batchSize     int
	encoderHidden []int
	decoderHidden []int
	activation    string
	keepProb      float64
	gridSize      int
	plotSamples   int
}

func vaeCmd() *cobra.Command {
	var f vaeFlags
	cmd := &cobra.Command{
		Use:   "vae",
		Short: "Train the variational autoencoder",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &cfg.VAE
			flags := cmd.Flags()
			if flags.Changed("z-dim") {
				c.ZDim = f.zDim
			}
			if flags.Changed("initializer") {
				c.KernelInitializer = f.initializer
			}
			if flags.Changed("optimizer") {
				c.Optimizer = f.optimizer
			}
			if flags.Changed("learning-rate") {
				c.LearningRate = f.learningRate
			}
			if flags.Changed("epochs") {
				c.Epochs = f.epochs
			}
			if flags.Changed("test-every") {
				c.TestEvery = f.testEvery
			}
			if flags.Changed("batch-size") {
				c.BatchSize = f.batchSize
			}
			if flags.Changed("encoder-hidden") {
				c.EncoderHidden = f.encoderHidden
			}
			if flags.Changed("decoder-hidden") {
				c.DecoderHidden = f.decoderHidden
			}
			if flags.Changed("activation") {
				c.HiddenActivation = f.activation
			}
			if flags.Changed("keep-prob") {
				c.KeepProb = f.keepProb
			}
			if flags.Changed("grid-size") {
				c.LatentGridSize = f.gridSize
			}
			if flags.Changed("plot-samples") {
				c.PlotSamples = f.plotSamples
			}
			return report(genmodels.TrainVAE(cmd.Context(), cfg))
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&f.zDim, "z-dim", 2, "latent dimension")
	flags.StringVar(&f.initializer, "initializer", "variance_scaling", "variance_scaling, glorot_uniform or zeros")
	flags.StringVar(&f.optimizer, "optimizer", "adam", "sgd, adadelta, adagrad, adam or rmsprop")
	flags.Float64Var(&f.learningRate, "learning-rate", 0.001, "optimizer learning rate")
	flags.Float64Var(&f.epochs, "epochs", 20, "passes over the training set")
	flags.IntVar(&f.testEvery, "test-every", 1000, "evaluate the test loss every N steps")
	flags.IntVar(&f.batchSize, "batch-size", 100, "minibatch size")
	flags.IntSliceVar(&f.encoderHidden, "encoder-hidden", []int{200, 200}, "encoder hidden layer sizes")
	flags.IntSliceVar(&f.decoderHidden, "decoder-hidden", []int{200, 200}, "decoder hidden layer sizes")
	flags.StringVar(&f.activation, "activation", "relu", "hidden activation")
	flags.Float64Var(&f.keepProb, "keep-prob", 1, "dropout keep probability")
	flags.IntVar(&f.gridSize, "grid-size", 20, "rows and columns of the latent space plot")
	flags.IntVar(&f.plotSamples, "plot-samples", 20, "samples drawn for every plot")
	return cmd
}

func sampleCmd() *cobra.Command {
	var (
		kind string
		n    int
		out  string
	)
	cmd := &cobra.Command{
		Use:   "sample <checkpoint.gob>",
		Short: "Draw samples from a saved model checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checkpoint := args[0]
			if out == "" {
				out = filepath.Join(filepath.Dir(checkpoint), "samples.png")
			}
			return genmodels.SampleCheckpoint(cfg, checkpoint, kind, n, out)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&kind, "model", "", "naive_bayes or vae (default: from the checkpoint file name)")
	flags.IntVarP(&n, "samples", "n", 16, "number of samples to draw")
	flags.StringVarP(&out, "out", "o", "", "output PNG (default: samples.png next to the checkpoint)")
	return cmd
}

// report logs where the run wrote its outputs. An interrupted run is not
// an error.
func report(res *genmodels.Result, err error) error {
	if res != nil {
		ev := log.Info().Str("dir", res.Run.Dir)
		if h := res.History; h != nil && len(h.Evaluations) > 0 {
			ev = ev.Float64("final_test_loss", h.Evaluations[len(h.Evaluations)-1].TestLoss)
		}
		ev.Msg("run finished")
	}
	if errors.Is(err, context.Canceled) {
		log.Warn().Msg("training interrupted")
		return nil
	}
	return err
}
