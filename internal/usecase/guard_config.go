package usecase

import (
	"errors"
	"fmt"
	"time"

	"TradeGuard/internal/domain/models"
	"TradeGuard/internal/guard"
	"TradeGuard/pkg/config"
)

// Guard names.
const (
	ConnectivityGuardName = "connectivity"
	ExecutionGuardName    = "execution"
)

// Metric names fed into the smoothers.
const (
	MetricRTT             = "rtt_ms"
	MetricPingFailure     = "ping_failure" // 1 per failed ping, 0 per success
	MetricMarketDataRate  = "marketdata_msgs_per_sec"
	MetricMarketDataGap   = "marketdata_gap_ms"
	MetricOrderStreamRate = "orderstream_msgs_per_sec"
	MetricOrderStreamGap  = "orderstream_gap_ms"
	MetricRateLimitUtil   = "ratelimit_utilization"

	MetricPlace     = "place_ms"
	MetricAck       = "ack_ms"
	MetricFirstFill = "first_fill_ms"
	MetricFullFill  = "full_fill_ms"
	MetricSlippage  = "slippage_bps"
)

// DefaultConnectivityPredicates is used when the connectivity guard has no
// thresholds configured, or when the configured ones are inconsistent.
func DefaultConnectivityPredicates() []guard.Predicate {
	return []guard.Predicate{
		guard.SilentFor(models.ModeHaltEntry, "orderstream_silent", MetricOrderStreamRate, time.Minute),
		guard.PercentileAbove(models.ModePanic, "rtt_p99_panic", MetricRTT, 99, 1500),
		guard.Above(models.ModePanic, "rtt_ewma_panic", MetricRTT, 1500),
		guard.Above(models.ModePanic, "ping_failures_panic", MetricPingFailure, 0.5),
		guard.Above(models.ModePanic, "marketdata_gap", MetricMarketDataGap, 5000),
		guard.Above(models.ModePanic, "ratelimit_exhausted", MetricRateLimitUtil, 0.95),
		guard.Above(models.ModeDegraded, "rtt_ewma_high", MetricRTT, 600),
		guard.Above(models.ModeDegraded, "ping_failures", MetricPingFailure, 0.2),
		guard.Above(models.ModeDegraded, "marketdata_gap_high", MetricMarketDataGap, 2000),
		guard.Below(models.ModeDegraded, "marketdata_slow", MetricMarketDataRate, 5, 5),
		guard.Above(models.ModeDegraded, "orderstream_gap_high", MetricOrderStreamGap, 3000),
		guard.Above(models.ModeDegraded, "ratelimit_high", MetricRateLimitUtil, 0.8),
	}
}

// DefaultExecutionPredicates is the execution counterpart.
func DefaultExecutionPredicates() []guard.Predicate {
	return []guard.Predicate{
		guard.PercentileAbove(models.ModeHaltEntry, "fill_latency_halt", MetricFullFill, 99, 15000),
		guard.Above(models.ModePanic, "ack_latency_panic", MetricAck, 1500),
		guard.Above(models.ModePanic, "fill_latency_panic", MetricFirstFill, 5000),
		guard.Above(models.ModePanic, "slippage_panic", MetricSlippage, 40),
		guard.Above(models.ModeDegraded, "place_latency_high", MetricPlace, 300),
		guard.Above(models.ModeDegraded, "ack_latency_high", MetricAck, 500),
		guard.Above(models.ModeDegraded, "fill_latency_high", MetricFirstFill, 2000),
		guard.Above(models.ModeDegraded, "slippage_high", MetricSlippage, 15),
	}
}

func parseStat(s string) guard.Stat {
	switch s {
	case "percentile":
		return guard.StatPercentile
	case "max":
		return guard.StatMax
	case "silence":
		return guard.StatSilence
	default:
		return guard.StatEWMA
	}
}

// PredicatesFromConfig converts YAML thresholds. An empty stat means ewma
// and an empty bound means upper.
func PredicatesFromConfig(ts []config.Threshold) ([]guard.Predicate, error) {
	out := make([]guard.Predicate, 0, len(ts))
	var errs []error
	for _, t := range ts {
		mode, err := models.ParseModeLevel(t.Mode)
		if err != nil {
			errs = append(errs, fmt.Errorf("threshold %s: %w", t.Reason, err))
			continue
		}
		p := guard.Predicate{
			Mode:       mode,
			Reason:     t.Reason,
			Metric:     t.Metric,
			Stat:       parseStat(t.Stat),
			P:          t.P,
			Threshold:  t.Threshold,
			MinSamples: t.MinSamples,
		}
		if t.Bound == "lower" {
			p.Bound = guard.Lower
		}
		if p.MinSamples == 0 && p.Stat != guard.StatSilence {
			p.MinSamples = 1
		}
		out = append(out, p)
	}
	return out, errors.Join(errs...)
}

func levelDurations(name string, m map[string]time.Duration, base map[models.ModeLevel]time.Duration) (map[models.ModeLevel]time.Duration, error) {
	out := make(map[models.ModeLevel]time.Duration, len(base)+len(m))
	for k, v := range base {
		out[k] = v
	}
	var errs []error
	for k, v := range m {
		lvl, err := models.ParseModeLevel(k)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out[lvl] = v
	}
	return out, errors.Join(errs...)
}

func modeLabels(m map[string]string) (models.ModeLabels, error) {
	out := make(models.ModeLabels, len(m))
	var errs []error
	for k, v := range m {
		lvl, err := models.ParseModeLevel(k)
		if err != nil {
			errs = append(errs, fmt.Errorf("labels: %w", err))
			continue
		}
		out[lvl] = v
	}
	return out, errors.Join(errs...)
}

// BuildGuardConfig turns one guard section into a controller config. When
// the configured thresholds are inconsistent it falls back to the built-in
// predicates and returns the validation error alongside a usable config, so
// the caller can raise an alert and keep running.
func BuildGuardConfig(name string, g config.Guard, horizon time.Duration, builtin []guard.Predicate) (guard.Config, error) {
	def := guard.DefaultPolicy()
	var errs []error

	labels, err := modeLabels(g.Labels)
	errs = append(errs, err)
	minHold, err := levelDurations("min_hold", g.MinHold, def.MinHold)
	errs = append(errs, err)
	budget, err := levelDurations("escalation_budget", g.EscalationBudget, def.EscalationBudget)
	errs = append(errs, err)

	cfg := guard.Config{
		Name:   name,
		Source: g.Source,
		Labels: labels,
		Policy: guard.Policy{
			MinHold:            minHold,
			EscalationBudget:   budget,
			DecayWindow:        g.DecayWindow,
			RecoveryMultiplier: g.RecoveryMultiplier,
		},
		Validity:       g.Validity,
		RefreshBefore:  g.RefreshBefore,
		HistoryHorizon: horizon,
		Predicates:     builtin,
	}

	if len(g.Thresholds) > 0 {
		preds, err := PredicatesFromConfig(g.Thresholds)
		errs = append(errs, err)
		if err == nil {
			candidate := cfg
			candidate.Predicates = preds
			if verr := guard.ValidatePredicates(preds); verr != nil {
				errs = append(errs, verr)
			} else {
				cfg = candidate
			}
		}
	}

	if err := cfg.Policy.Validate(); err != nil {
		errs = append(errs, err)
		cfg.Policy = def
	}
	return cfg, errors.Join(errs...)
}

// SmootherOptions maps the smoothing section of a guard.
func SmootherOptions(g config.Guard, start time.Time) []guard.SmootherOption {
	opts := []guard.SmootherOption{
		guard.WithDefaultAlpha(g.Alpha),
		guard.WithWindowCapacity(g.Window),
		guard.WithStartTime(start),
	}
	for name, a := range g.Alphas {
		opts = append(opts, guard.WithAlpha(name, a))
	}
	return opts
}
