package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/FlavioCFOliveira/GoGenModels/internal/train"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Observer is a training callback that updates the Prometheus collectors.
type Observer struct {
	train.BaseCallback
	prometheus Prometheus
}

// NewObserver creates an Observer whose collectors are registered on reg.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	p := NewPrometheusMetrics()
	if err := p.Register(reg); err != nil {
		return nil, err
	}
	return &Observer{prometheus: p}, nil
}

func (o *Observer) OnStepEnd(step int, trainLoss float64, m train.Model) {
	o.prometheus.Steps.WithLabelValues(m.Name()).Inc()
}

func (o *Observer) OnEvaluate(ev train.Evaluation, m train.Model) {
	o.prometheus.TrainLoss.WithLabelValues(m.Name()).Set(ev.TrainLoss)
	o.prometheus.TestLoss.WithLabelValues(m.Name()).Set(ev.TestLoss)
}

// Serve exposes reg on /metrics over ln until ctx is done.
func Serve(ctx context.Context, ln net.Listener, reg prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
