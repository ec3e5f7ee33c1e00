package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/FlavioCFOliveira/GoGenModels/internal/train"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedModel struct{ train.Model }

func (namedModel) Name() string { return "vae" }

func TestObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewObserver(reg)
	require.NoError(t, err)

	m := namedModel{}
	for i := 0; i < 3; i++ {
		o.OnStepEnd(i, 1, m)
	}
	o.OnEvaluate(train.Evaluation{TrainLoss: 150.5, TestLoss: 152.25}, m)

	assert.Equal(t, 3.0, testutil.ToFloat64(o.prometheus.Steps.WithLabelValues("vae")))
	assert.Equal(t, 150.5, testutil.ToFloat64(o.prometheus.TrainLoss.WithLabelValues("vae")))
	assert.Equal(t, 152.25, testutil.ToFloat64(o.prometheus.TestLoss.WithLabelValues("vae")))

	_, err = NewObserver(reg)
	assert.Error(t, err, "registering twice must fail")
}

func TestServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewObserver(reg)
	require.NoError(t, err)
	o.OnStepEnd(0, 1, namedModel{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, reg) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `genmodels_steps_total{model="vae"} 1`)

	cancel()
	assert.NoError(t, <-done)
}
