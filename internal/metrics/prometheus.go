// Package metrics exports training progress as Prometheus metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus holds the collectors exported during training.
type Prometheus struct {
	TrainLoss *prometheus.GaugeVec
	TestLoss  *prometheus.GaugeVec
	Steps     *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors, labelled by model name.
func NewPrometheusMetrics() Prometheus {
	return Prometheus{
		TrainLoss: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "genmodels",
				Name:      "train_loss",
				Help:      "Minibatch loss at the last evaluation.",
			}, []string{"model"}),
		TestLoss: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "genmodels",
				Name:      "test_loss",
				Help:      "Test set loss at the last evaluation.",
			}, []string{"model"}),
		Steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "genmodels",
				Name:      "steps_total",
				Help:      "Optimizer steps taken.",
			}, []string{"model"}),
	}
}

// Register adds every collector to reg.
func (p Prometheus) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{p.TrainLoss, p.TestLoss, p.Steps} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
