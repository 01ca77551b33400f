package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"TradeGuard/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	samplesTotal   *prometheus.CounterVec
	samplesDropped *prometheus.CounterVec
	mode           *prometheus.GaugeVec
	transitions    *prometheus.CounterVec
	directives     *prometheus.CounterVec
	ewma           *prometheus.GaugeVec
	modeFraction   *prometheus.GaugeVec
	endpointScore  *prometheus.GaugeVec
	failovers      *prometheus.CounterVec
	publishes      *prometheus.CounterVec
	evaluation     *prometheus.HistogramVec
}

// New registers the recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the recorder on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		samplesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeguard_samples_total",
				Help: "Telemetry samples accepted per guard and metric",
			},
			[]string{"guard", "metric"},
		),
		samplesDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeguard_samples_dropped_total",
				Help: "Malformed or out-of-range telemetry samples that were dropped",
			},
			[]string{"guard", "reason"},
		),
		mode: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradeguard_mode",
				Help: "Committed mode level (0 normal, 1 degraded, 2 panic, 3 halt_entry)",
			},
			[]string{"guard"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeguard_mode_transitions_total",
				Help: "Committed mode changes",
			},
			[]string{"guard", "from", "to"},
		),
		directives: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeguard_directives_total",
				Help: "Directives emitted",
			},
			[]string{"guard", "mode", "forced"},
		),
		ewma: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradeguard_metric_ewma",
				Help: "Current EWMA of a tracked telemetry metric",
			},
			[]string{"guard", "metric"},
		),
		modeFraction: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradeguard_mode_time_fraction",
				Help: "Share of the reporting horizon spent in each mode",
			},
			[]string{"guard", "mode"},
		),
		endpointScore: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradeguard_endpoint_score",
				Help: "Effective health score of an endpoint",
			},
			[]string{"endpoint"},
		),
		failovers: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeguard_failover_recommendations_total",
				Help: "Failover recommendations emitted",
			},
			[]string{"from", "to"},
		),
		publishes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeguard_publish_total",
				Help: "Outbound publishes by kind and status",
			},
			[]string{"kind", "status"},
		),
		evaluation: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradeguard_evaluation_duration_seconds",
				Help:    "Duration of one guard evaluation",
				Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01},
			},
			[]string{"guard"},
		),
	}
}

func (r *Recorder) RecordSample(guard, metric string) {
	r.samplesTotal.WithLabelValues(guard, metric).Inc()
}

func (r *Recorder) RecordSampleDropped(guard, reason string) {
	r.samplesDropped.WithLabelValues(guard, reason).Inc()
}

func (r *Recorder) RecordMode(guard string, mode models.ModeLevel) {
	r.mode.WithLabelValues(guard).Set(float64(mode))
}

func (r *Recorder) RecordTransition(guard string, from, to models.ModeLevel) {
	r.transitions.WithLabelValues(guard, from.String(), to.String()).Inc()
}

func (r *Recorder) RecordDirective(guard string, mode models.ModeLevel, forced bool) {
	f := "false"
	if forced {
		f = "true"
	}
	r.directives.WithLabelValues(guard, mode.String(), f).Inc()
}

func (r *Recorder) RecordEWMA(guard, metric string, value float64) {
	r.ewma.WithLabelValues(guard, metric).Set(value)
}

func (r *Recorder) RecordModeFraction(guard, mode string, fraction float64) {
	r.modeFraction.WithLabelValues(guard, mode).Set(fraction)
}

func (r *Recorder) RecordEndpointScore(endpoint string, score float64) {
	r.endpointScore.WithLabelValues(endpoint).Set(score)
}

func (r *Recorder) RecordFailover(from, to string) {
	r.failovers.WithLabelValues(from, to).Inc()
}

// RecordPublish counts an outbound publish; a nil err is a success.
func (r *Recorder) RecordPublish(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.publishes.WithLabelValues(kind, status).Inc()
}

// RecordEvaluation records evaluation latency in seconds.
func (r *Recorder) RecordEvaluation(guard string, seconds float64) {
	r.evaluation.WithLabelValues(guard).Observe(seconds)
}
