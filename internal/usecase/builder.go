package usecase

import (
	"context"
	"fmt"
	"time"

	domrepo "TradeGuard/internal/domain/repository"
	"TradeGuard/internal/guard"
	"TradeGuard/internal/middleware"
	"TradeGuard/internal/service/alert"
	"TradeGuard/pkg/config"
	"TradeGuard/pkg/logger"
)

// Outputs is everything a guard emits. The dispatcher implements it.
type Outputs interface {
	guard.Sink
	OutputSink
}

// GuardDeps carries the collaborators shared by both guards.
type GuardDeps struct {
	Out      Outputs
	Store    domrepo.DirectiveStore
	Metrics  domrepo.Metrics
	Pipe     *middleware.TelemetryPipeline
	Alerter  domrepo.Alerter
	Log      *logger.Logger
	Interval time.Duration
	Horizon  time.Duration
	Clock    func() time.Time
}

func (d GuardDeps) withDefaults() GuardDeps {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Interval <= 0 {
		d.Interval = time.Second
	}
	return d
}

func (d GuardDeps) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

// configError raises the inconsistent-threshold alert. The guard keeps
// running on its built-in predicates.
func (d GuardDeps) configError(ctx context.Context, name string, err error) {
	d.Log.Error("guard config rejected, using built-in thresholds",
		logger.String("guard", name),
		logger.Error(err),
	)
	if d.Alerter == nil {
		return
	}
	a := domrepo.Alert{
		Key:      alert.KeyInconsistentThresholds + ":" + name,
		Severity: alert.SeverityCritical,
		Title:    fmt.Sprintf("%s guard thresholds rejected", name),
		Message:  err.Error(),
		Fields:   map[string]string{"guard": name},
		At:       d.now(),
	}
	if serr := d.Alerter.Send(ctx, a); serr != nil {
		d.Log.Warn("alert delivery failed", logger.String("key", a.Key), logger.Error(serr))
	}
}

func (d GuardDeps) service(ctx context.Context, name string, g config.Guard, builtin []guard.Predicate, opts ...guard.Option) *GuardService {
	cfg, err := BuildGuardConfig(name, g, d.Horizon, builtin)
	if err != nil {
		d.configError(ctx, name, err)
	}
	opts = append([]guard.Option{
		guard.WithLogger(d.Log),
		guard.WithSmoother(guard.NewSmoother(SmootherOptions(g, d.now())...)),
	}, opts...)
	if d.Clock != nil {
		opts = append(opts, guard.WithClock(d.Clock))
	}
	ctrl := guard.NewController(cfg, d.Out, opts...)
	return NewGuardService(ctrl, d.Store, d.Metrics, d.Log, d.Interval)
}

// EndpointPolicyFromConfig maps the endpoints section, falling back to the
// default policy when the values contradict each other.
func EndpointPolicyFromConfig(cfg *config.Config) (guard.EndpointPolicy, error) {
	e := cfg.Endpoints
	p := guard.EndpointPolicy{
		RTTCeilingMs:    e.RTTCeilingMs,
		RateLimitWeight: e.RateLimitWeight,
		StaleAfter:      e.StaleAfter,
		HalfLife:        e.HalfLife,
		Margin:          e.Margin,
		Floor:           e.Floor,
		MinInterval:     e.MinInterval,
	}
	if err := p.Validate(); err != nil {
		return guard.DefaultEndpointPolicy(), err
	}
	return p, nil
}

// BuildConnectivityGuard assembles the connectivity guard and its endpoint
// registry.
func BuildConnectivityGuard(ctx context.Context, d GuardDeps, cfg *config.Config) *ConnectivityGuard {
	d = d.withDefaults()
	policy, err := EndpointPolicyFromConfig(cfg)
	if err != nil {
		d.configError(ctx, ConnectivityGuardName, err)
	}
	active := cfg.Endpoints.Active
	if active == "" && len(cfg.Endpoints.IDs) > 0 {
		active = cfg.Endpoints.IDs[0]
	}
	registry := guard.NewEndpointRegistry(policy, cfg.Endpoints.IDs, active)
	svc := d.service(ctx, ConnectivityGuardName, cfg.Guards.Connectivity, DefaultConnectivityPredicates())
	return NewConnectivityGuard(svc, registry, d.Out, d.Pipe, d.Metrics)
}

// BuildExecutionGuard assembles the execution guard with its context scale
// and advice policy.
func BuildExecutionGuard(ctx context.Context, d GuardDeps, cfg *config.Config) *ExecutionGuard {
	d = d.withDefaults()
	g := cfg.Guards.Execution
	scale := NewContextScale(g.TagScales, g.MinScale)
	policy := guard.DefaultAdvicePolicy()
	policy.SoftSlippageBps = cfg.Advice.SoftSlippageBps
	policy.HardSliceCap = cfg.Advice.HardSliceCap
	svc := d.service(ctx, ExecutionGuardName, g, DefaultExecutionPredicates(), guard.WithScale(scale.Scale))
	return NewExecutionGuard(svc, scale, policy, d.Out, d.Pipe)
}
