package usecase

import (
	"context"
	"fmt"
	"time"

	"TradeGuard/internal/domain/models"
	domrepo "TradeGuard/internal/domain/repository"
	"TradeGuard/internal/guard"
	"TradeGuard/internal/middleware"
	"TradeGuard/pkg/logger"
)

// OutputSink is the non-blocking outbound side of the guards; the
// dispatcher implements it.
type OutputSink interface {
	PublishSnapshot(s *models.MetricsSnapshot)
	PublishFailover(r *models.FailoverRecommendation)
	PublishAdvice(a *models.Advice)
}

// ConnectivityGuard drives mode from transport health of the active
// endpoint and scores every configured endpoint for failover.
type ConnectivityGuard struct {
	*GuardService
	registry *guard.EndpointRegistry
	out      OutputSink
	pipe     *middleware.TelemetryPipeline
	metrics  domrepo.Metrics
}

func NewConnectivityGuard(svc *GuardService, registry *guard.EndpointRegistry, out OutputSink, pipe *middleware.TelemetryPipeline, metrics domrepo.Metrics) *ConnectivityGuard {
	g := &ConnectivityGuard{
		GuardService: svc,
		registry:     registry,
		out:          out,
		pipe:         pipe,
		metrics:      metrics,
	}
	svc.AfterEvaluate(g.afterEvaluate)
	return g
}

var _ Guard = (*ConnectivityGuard)(nil)

// ObservePing takes one ping result from the transport or the prober.
// Every endpoint feeds the registry; only the active one feeds the
// controller.
func (g *ConnectivityGuard) ObservePing(_ context.Context, r models.PingResult) {
	key := "ping:" + r.Endpoint
	if !g.pipe.Admit(g.Name(), key, r.Timestamp, middleware.ValidatePing(r)) {
		return
	}
	rtt := r.RTTMs
	if !r.OK {
		rtt = 0
	}
	if err := g.registry.Observe(r.Endpoint, r.OK, rtt, r.Timestamp); err != nil {
		g.pipe.Reject(g.Name(), middleware.ReasonFor(err), err)
		return
	}
	if r.Endpoint != g.registry.Active() {
		return
	}
	failure := 0.0
	if !r.OK {
		failure = 1
	}
	g.Observe(MetricPingFailure, failure, r.Timestamp)
	if r.OK {
		g.Observe(MetricRTT, r.RTTMs, r.Timestamp)
	}
}

// ObserveThroughput takes one market-data or order-stream tick.
func (g *ConnectivityGuard) ObserveThroughput(_ context.Context, t models.ThroughputTick) {
	key := string(t.Stream) + ":" + t.Endpoint
	if !g.pipe.Admit(g.Name(), key, t.Timestamp, middleware.ValidateThroughput(t)) {
		return
	}
	if _, err := g.registry.Score(t.Endpoint, t.Timestamp); err != nil {
		g.pipe.Reject(g.Name(), middleware.ReasonFor(err), err)
		return
	}
	if t.Endpoint != g.registry.Active() {
		return
	}
	switch t.Stream {
	case models.StreamMarketData:
		g.Observe(MetricMarketDataRate, t.MsgsPerSec, t.Timestamp)
		g.Observe(MetricMarketDataGap, t.GapMs, t.Timestamp)
	case models.StreamOrderStream:
		g.Observe(MetricOrderStreamRate, t.MsgsPerSec, t.Timestamp)
		g.Observe(MetricOrderStreamGap, t.GapMs, t.Timestamp)
	}
}

// ObserveRateLimit takes one request-weight snapshot.
func (g *ConnectivityGuard) ObserveRateLimit(_ context.Context, r models.RateLimitSnapshot) {
	key := "ratelimit:" + r.Endpoint
	if !g.pipe.Admit(g.Name(), key, r.Timestamp, middleware.ValidateRateLimit(r)) {
		return
	}
	if err := g.registry.ObserveRateLimit(r.Endpoint, r.Used, r.Limit, r.Timestamp); err != nil {
		g.pipe.Reject(g.Name(), middleware.ReasonFor(err), err)
		return
	}
	if r.Endpoint == g.registry.Active() {
		g.Observe(MetricRateLimitUtil, r.Utilization(), r.Timestamp)
	}
}

func (g *ConnectivityGuard) afterEvaluate(_ guard.Evaluation, now time.Time) {
	for id, score := range g.registry.Scores(now) {
		g.metrics.RecordEndpointScore(id, score)
	}
	rec := g.registry.RecommendFailover(now)
	if rec == nil {
		return
	}
	g.metrics.RecordFailover(rec.FromEndpoint, rec.ToEndpoint)
	g.log.Warn("failover recommended",
		logger.String("from", rec.FromEndpoint),
		logger.String("to", rec.ToEndpoint),
		logger.Float64("score_from", rec.ScoreFrom),
		logger.Float64("score_to", rec.ScoreTo),
		logger.Strings("reasons", rec.ReasonCodes),
	)
	g.out.PublishFailover(rec)
}

// Endpoints lists every endpoint with its effective score.
func (g *ConnectivityGuard) Endpoints() []models.EndpointHealth {
	return g.registry.Snapshot(g.ctrl.Now())
}

// SetActive records an operator-acknowledged switch. Controller metrics
// follow the new endpoint from the next sample on.
func (g *ConnectivityGuard) SetActive(id string) error {
	prev := g.registry.Active()
	if err := g.registry.SetActive(id); err != nil {
		return fmt.Errorf("set active endpoint: %w", err)
	}
	g.log.Info("active endpoint changed", logger.String("from", prev), logger.String("to", id))
	return nil
}

func (g *ConnectivityGuard) Status() models.GuardStatus {
	st := g.GuardService.Status()
	st.EndpointScores = g.registry.Scores(g.ctrl.Now())
	return st
}

func (g *ConnectivityGuard) Snapshot() models.MetricsSnapshot {
	s := g.GuardService.Snapshot()
	s.EndpointScores = g.registry.Scores(s.Timestamp)
	return s
}
