package usecase

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"TradeGuard/internal/domain/models"
	"TradeGuard/internal/guard"
	"TradeGuard/internal/middleware"
	"TradeGuard/pkg/config"
	"TradeGuard/pkg/logger"
	"TradeGuard/pkg/metrics"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: epoch} }

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

type captureSink struct {
	mu         sync.Mutex
	directives []*models.Directive
	snapshots  []*models.MetricsSnapshot
	failovers  []*models.FailoverRecommendation
	advice     []*models.Advice
}

func (c *captureSink) PublishDirective(d *models.Directive) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.directives = append(c.directives, d)
}

func (c *captureSink) PublishSnapshot(s *models.MetricsSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots = append(c.snapshots, s)
}

func (c *captureSink) PublishFailover(r *models.FailoverRecommendation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failovers = append(c.failovers, r)
}

func (c *captureSink) PublishAdvice(a *models.Advice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advice = append(c.advice, a)
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("d-%d", n)
	}
}

func baseGuardConfig() config.Guard {
	return config.Guard{
		Enabled:            true,
		Alpha:              0.3,
		Window:             512,
		Validity:           5 * time.Minute,
		RefreshBefore:      time.Minute,
		DecayWindow:        30 * time.Second,
		RecoveryMultiplier: 0.8,
		MinScale:           0.5,
	}
}

type fixture struct {
	clk     *fakeClock
	reg     *prometheus.Registry
	metrics *metrics.Recorder
	pipe    *middleware.TelemetryPipeline
	sink    *captureSink
}

func newFixture() *fixture {
	clk := newFakeClock()
	reg := prometheus.NewRegistry()
	rec := metrics.NewWithRegistry(reg)
	return &fixture{
		clk:     clk,
		reg:     reg,
		metrics: rec,
		pipe:    middleware.NewTelemetryPipeline(rec, logger.Nop(), middleware.WithClock(clk.Now)),
		sink:    &captureSink{},
	}
}

func (f *fixture) service(t *testing.T, name string, g config.Guard, builtin []guard.Predicate, opts ...guard.Option) *GuardService {
	t.Helper()
	cfg, err := BuildGuardConfig(name, g, 15*time.Minute, builtin)
	if err != nil {
		t.Fatalf("guard config: %v", err)
	}
	opts = append([]guard.Option{
		guard.WithClock(f.clk.Now),
		guard.WithSmoother(guard.NewSmoother(SmootherOptions(g, f.clk.Now())...)),
		guard.WithIDGenerator(sequentialIDs()),
	}, opts...)
	ctrl := guard.NewController(cfg, f.sink, opts...)
	return NewGuardService(ctrl, nil, f.metrics, logger.Nop(), time.Second)
}

func (f *fixture) connectivity(t *testing.T) *ConnectivityGuard {
	t.Helper()
	g := baseGuardConfig()
	svc := f.service(t, ConnectivityGuardName, g, DefaultConnectivityPredicates())
	registry := guard.NewEndpointRegistry(guard.DefaultEndpointPolicy(), []string{"ep-a", "ep-b"}, "ep-a")
	return NewConnectivityGuard(svc, registry, f.sink, f.pipe, f.metrics)
}

func (f *fixture) execution(t *testing.T) *ExecutionGuard {
	t.Helper()
	g := baseGuardConfig()
	g.Labels = map[string]string{"degraded": "slowdown", "panic": "block_aggressive", "halt_entry": "halt_entry"}
	g.TagScales = map[string]float64{"high_volatility": 0.8, "session_open": 0.9}
	scale := NewContextScale(g.TagScales, g.MinScale)
	svc := f.service(t, ExecutionGuardName, g, DefaultExecutionPredicates(), guard.WithScale(scale.Scale))
	return NewExecutionGuard(svc, scale, guard.DefaultAdvicePolicy(), f.sink, f.pipe)
}

// counter sums a counter family over series matching every given label.
func (f *fixture) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := f.reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	total := 0.0
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for k, v := range labels {
				found := false
				for _, l := range m.GetLabel() {
					if l.GetName() == k && l.GetValue() == v {
						found = true
					}
				}
				if !found {
					continue series
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
