package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"TradeGuard/internal/domain/models"
	"TradeGuard/internal/guard"
	"TradeGuard/internal/middleware"
	"TradeGuard/pkg/logger"
)

// ContextScale holds the active context tags and turns them into the
// threshold multiplier of the execution guard.
type ContextScale struct {
	scales map[string]float64
	min    float64

	mu      sync.Mutex
	tags    []string
	expires time.Time
}

func NewContextScale(scales map[string]float64, min float64) *ContextScale {
	if min <= 0 || min > 1 {
		min = 0.5
	}
	return &ContextScale{scales: scales, min: min}
}

// Set replaces the active tag set.
func (c *ContextScale) Set(tags models.ContextTags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags = models.UniqueReasons(tags.Tags)
	c.expires = tags.ExpiresAt
}

// Active returns the tags still in force at now, sorted.
func (c *ContextScale) Active(now time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !now.Before(c.expires) {
		return nil
	}
	out := append([]string(nil), c.tags...)
	sort.Strings(out)
	return out
}

// Scale multiplies the scales of active known tags, bounded below by min.
// Unknown tags do not tighten anything.
func (c *ContextScale) Scale(now time.Time) float64 {
	scale := 1.0
	for _, t := range c.Active(now) {
		if s, ok := c.scales[t]; ok {
			scale *= s
		}
	}
	if scale < c.min {
		scale = c.min
	}
	return scale
}

// ExecutionGuard drives mode from order-journey latency and slippage and
// emits execution advice when it changes.
type ExecutionGuard struct {
	*GuardService
	context *ContextScale
	policy  guard.AdvicePolicy
	out     OutputSink
	pipe    *middleware.TelemetryPipeline

	mu         sync.Mutex
	lastAdvice *models.Advice
}

func NewExecutionGuard(svc *GuardService, scale *ContextScale, policy guard.AdvicePolicy, out OutputSink, pipe *middleware.TelemetryPipeline) *ExecutionGuard {
	g := &ExecutionGuard{
		GuardService: svc,
		context:      scale,
		policy:       policy,
		out:          out,
		pipe:         pipe,
	}
	svc.AfterEvaluate(g.afterEvaluate)
	return g
}

var _ Guard = (*ExecutionGuard)(nil)

// ObserveJourney takes one order journey. Zero latencies mean the stage
// was not reached and are skipped; slippage counts only for filled orders.
func (g *ExecutionGuard) ObserveJourney(_ context.Context, j models.OrderJourney) {
	key := "journey:" + j.Symbol + ":" + j.Side
	if !g.pipe.Admit(g.Name(), key, j.Timestamp, middleware.ValidateJourney(j)) {
		return
	}
	stages := []struct {
		metric string
		value  float64
	}{
		{MetricPlace, j.PlaceMs},
		{MetricAck, j.AckMs},
		{MetricFirstFill, j.FirstFillMs},
		{MetricFullFill, j.FullFillMs},
	}
	for _, s := range stages {
		if s.value > 0 {
			g.Observe(s.metric, s.value, j.Timestamp)
		}
	}
	if j.FirstFillMs > 0 || j.FullFillMs > 0 {
		g.Observe(MetricSlippage, j.SlippageBps, j.Timestamp)
	}
}

// ObserveContext replaces the active context tags.
func (g *ExecutionGuard) ObserveContext(_ context.Context, tags models.ContextTags) {
	g.context.Set(tags)
	g.log.Info("context tags updated",
		logger.Strings("tags", tags.Tags),
		logger.Float64("scale", g.context.Scale(g.ctrl.Now())),
	)
}

func (g *ExecutionGuard) afterEvaluate(ev guard.Evaluation, now time.Time) {
	adv := guard.AdviseFor(g.policy, ev.Mode, g.ctrl.Smoother().EWMA(MetricSlippage))

	g.mu.Lock()
	if g.lastAdvice.Equivalent(&adv) {
		g.mu.Unlock()
		return
	}
	adv.Timestamp = now
	adv.Source = g.ctrl.Source()
	g.lastAdvice = &adv
	g.mu.Unlock()

	g.out.PublishAdvice(&adv)
}

// Advice returns the last emitted advice.
func (g *ExecutionGuard) Advice() *models.Advice {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastAdvice
}

func (g *ExecutionGuard) Status() models.GuardStatus {
	st := g.GuardService.Status()
	st.ContextTags = g.context.Active(g.ctrl.Now())
	return st
}
