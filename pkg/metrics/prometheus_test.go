package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"TradeGuard/internal/domain/models"
	"TradeGuard/internal/domain/repository"
)

var _ repository.Metrics = (*Recorder)(nil)

func TestRecorderCountsAndGauges(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordMode("execution", models.ModePanic)
	r.RecordDirective("execution", models.ModePanic, true)
	r.RecordDirective("execution", models.ModePanic, true)
	r.RecordSampleDropped("connectivity", "unknown_endpoint")
	r.RecordPublish("directive", errors.New("broker down"))
	r.RecordPublish("directive", nil)
	r.RecordEndpointScore("binance-ws-1", 0.75)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.mode.WithLabelValues("execution")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.directives.WithLabelValues("execution", "panic", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.samplesDropped.WithLabelValues("connectivity", "unknown_endpoint")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.publishes.WithLabelValues("directive", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.publishes.WithLabelValues("directive", "ok")))
	assert.Equal(t, 0.75, testutil.ToFloat64(r.endpointScore.WithLabelValues("binance-ws-1")))
}

func TestRecorderSeparateRegistries(t *testing.T) {
	// two recorders on private registries must not collide
	assert.NotPanics(t, func() {
		NewWithRegistry(prometheus.NewRegistry())
		NewWithRegistry(prometheus.NewRegistry())
	})
}
