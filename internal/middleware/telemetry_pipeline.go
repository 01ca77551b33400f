package middleware

import (
	"errors"
	"fmt"
	"math"
	"time"

	"TradeGuard/internal/domain/models"
	domrepo "TradeGuard/internal/domain/repository"
	"TradeGuard/internal/guard"
	"TradeGuard/internal/service/ratelimit"
	"TradeGuard/pkg/logger"
)

// Drop reasons, used as the metric label.
const (
	DropDecode          = "decode"
	DropInvalid         = "invalid"
	DropUnknownEndpoint = "unknown_endpoint"
	DropStale           = "stale"
	DropFuture          = "future"
	DropThrottled       = "throttled"
)

// TelemetryPipeline sits between the inbound transport and the guards. It
// rejects malformed, stale and over-rate samples, counting and logging each
// drop; nothing it rejects ever reaches a smoother.
type TelemetryPipeline struct {
	metrics domrepo.Metrics
	log     *logger.Logger
	now     func() time.Time
	maxAge  time.Duration
	skew    time.Duration
	limiter *ratelimit.Limiter
}

type PipelineOption func(*TelemetryPipeline)

// WithMaxAge drops samples older than d. Zero disables the check.
func WithMaxAge(d time.Duration) PipelineOption {
	return func(p *TelemetryPipeline) { p.maxAge = d }
}

// WithMaxRPS caps accepted samples per second per key.
func WithMaxRPS(n int) PipelineOption {
	return func(p *TelemetryPipeline) {
		if n > 0 {
			p.limiter = ratelimit.New(float64(n), 1)
		}
	}
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *TelemetryPipeline) { p.now = now }
}

func NewTelemetryPipeline(metrics domrepo.Metrics, log *logger.Logger, opts ...PipelineOption) *TelemetryPipeline {
	if log == nil {
		log = logger.Nop()
	}
	p := &TelemetryPipeline{
		metrics: metrics,
		log:     log.With("telemetry"),
		now:     time.Now,
		skew:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Admit decides whether a decoded sample may enter guardName. err is the
// sample's validation result; key identifies the sample stream for
// throttling.
func (p *TelemetryPipeline) Admit(guardName, key string, at time.Time, err error) bool {
	if err != nil {
		p.Reject(guardName, ReasonFor(err), err)
		return false
	}
	now := p.now()
	if p.maxAge > 0 && now.Sub(at) > p.maxAge {
		p.Reject(guardName, DropStale, fmt.Errorf("%s sample is %s old", key, now.Sub(at).Truncate(time.Millisecond)))
		return false
	}
	if at.Sub(now) > p.skew {
		p.Reject(guardName, DropFuture, fmt.Errorf("%s sample is %s in the future", key, at.Sub(now).Truncate(time.Millisecond)))
		return false
	}
	if !p.allow(key, now) {
		p.metrics.RecordSampleDropped(guardName, DropThrottled)
		return false
	}
	return true
}

// Reject counts and logs a dropped sample.
func (p *TelemetryPipeline) Reject(guardName, reason string, err error) {
	p.metrics.RecordSampleDropped(guardName, reason)
	p.log.Warn("telemetry sample dropped",
		logger.String("guard", guardName),
		logger.String("reason", reason),
		logger.Error(err),
	)
}

func (p *TelemetryPipeline) allow(key string, now time.Time) bool {
	return p.limiter == nil || p.limiter.AllowAt(key, now)
}

// ReasonFor maps a rejection error to its drop reason.
func ReasonFor(err error) string {
	if errors.Is(err, guard.ErrUnknownEndpoint) {
		return DropUnknownEndpoint
	}
	return DropInvalid
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", guard.ErrInvalidSample, fmt.Sprintf(format, args...))
}

func finiteNonNegative(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid("%s is not finite", name)
	}
	if v < 0 {
		return invalid("%s %.3f is negative", name, v)
	}
	return nil
}

func ValidatePing(r models.PingResult) error {
	if r.Endpoint == "" {
		return invalid("ping without endpoint")
	}
	if r.OK {
		return finiteNonNegative("rtt_ms", r.RTTMs)
	}
	return nil
}

func ValidateThroughput(t models.ThroughputTick) error {
	if t.Endpoint == "" {
		return invalid("%s tick without endpoint", t.Stream)
	}
	if t.Stream != models.StreamMarketData && t.Stream != models.StreamOrderStream {
		return invalid("unknown stream %q", t.Stream)
	}
	return errors.Join(finiteNonNegative("msgs_per_sec", t.MsgsPerSec), finiteNonNegative("gap_ms", t.GapMs))
}

func ValidateRateLimit(r models.RateLimitSnapshot) error {
	if r.Endpoint == "" {
		return invalid("rate limit without endpoint")
	}
	if err := errors.Join(finiteNonNegative("used", r.Used), finiteNonNegative("limit", r.Limit)); err != nil {
		return err
	}
	if r.Limit == 0 {
		return invalid("rate limit of zero")
	}
	return nil
}

func ValidateJourney(j models.OrderJourney) error {
	if j.Side != "" && j.Side != "buy" && j.Side != "sell" {
		return invalid("side %q", j.Side)
	}
	if err := errors.Join(
		finiteNonNegative("place_ms", j.PlaceMs),
		finiteNonNegative("ack_ms", j.AckMs),
		finiteNonNegative("first_fill_ms", j.FirstFillMs),
		finiteNonNegative("full_fill_ms", j.FullFillMs),
	); err != nil {
		return err
	}
	// slippage may be negative (price improvement) but must be a number
	if math.IsNaN(j.SlippageBps) || math.IsInf(j.SlippageBps, 0) {
		return invalid("slippage_bps is not finite")
	}
	return nil
}
