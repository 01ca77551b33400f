package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"TradeGuard/internal/domain/models"
	"TradeGuard/internal/guard"
	"TradeGuard/internal/middleware"
	pkgkafka "TradeGuard/pkg/kafka"
	"TradeGuard/pkg/util"
)

// Telemetry handlers decode one inbound topic each. Undecodable or invalid
// messages are counted and dropped; Handle then returns nil so the consumer
// commits the offset instead of retrying.

type pingMessage struct {
	Endpoint  string        `json:"endpoint"`
	RTTMs     float64       `json:"rtt_ms"`
	OK        bool          `json:"ok"`
	Transport string        `json:"transport"`
	TS        util.FlexTime `json:"ts"`
}

type throughputMessage struct {
	Endpoint   string        `json:"endpoint"`
	MsgsPerSec float64       `json:"msgs_per_sec"`
	GapMs      float64       `json:"gap_ms"`
	TS         util.FlexTime `json:"ts"`
}

type rateLimitMessage struct {
	Endpoint string        `json:"endpoint"`
	Used     float64       `json:"used"`
	Limit    float64       `json:"limit"`
	TS       util.FlexTime `json:"ts"`
}

type journeyMessage struct {
	Symbol      string        `json:"symbol"`
	Side        string        `json:"side"`
	PlaceMs     float64       `json:"place_ms"`
	AckMs       float64       `json:"ack_ms"`
	FirstFillMs float64       `json:"first_fill_ms"`
	FullFillMs  float64       `json:"full_fill_ms"`
	SlippageBps float64       `json:"slippage_bps"`
	TS          util.FlexTime `json:"ts"`
}

type contextMessage struct {
	Tags   []string      `json:"tags"`
	TTLSec float64       `json:"ttl_sec"`
	TS     util.FlexTime `json:"ts"`
}

type overrideMessage struct {
	Guard     string           `json:"guard"`
	Mode      models.ModeLevel `json:"mode"`
	Source    string           `json:"source"`
	Reason    string           `json:"reason"`
	ExpiresAt util.FlexTime    `json:"expires_at"`
}

type handlerBase struct {
	topic string
	guard string
	pipe  *middleware.TelemetryPipeline
	now   func() time.Time
}

func (h handlerBase) Topic() string { return h.topic }

func (h handlerBase) decode(b []byte, v interface{}) bool {
	if err := json.Unmarshal(b, v); err != nil {
		h.pipe.Reject(h.guard, middleware.DropDecode, fmt.Errorf("%s: %w", h.topic, err))
		return false
	}
	return true
}

// PingHandler consumes telemetry.ping.
type PingHandler struct {
	handlerBase
	target *ConnectivityGuard
}

func NewPingHandler(topic string, g *ConnectivityGuard, pipe *middleware.TelemetryPipeline) *PingHandler {
	return &PingHandler{handlerBase: handlerBase{topic: topic, guard: g.Name(), pipe: pipe, now: time.Now}, target: g}
}

func (h *PingHandler) Handle(ctx context.Context, b []byte) error {
	var m pingMessage
	if !h.decode(b, &m) {
		return nil
	}
	transport := m.Transport
	if transport == "" {
		transport = "ws"
	}
	h.target.ObservePing(ctx, models.PingResult{
		Endpoint:  m.Endpoint,
		RTTMs:     m.RTTMs,
		OK:        m.OK,
		Transport: transport,
		Timestamp: m.TS.OrNow(h.now()),
	})
	return nil
}

// ThroughputHandler consumes telemetry.marketdata or telemetry.orderstream.
type ThroughputHandler struct {
	handlerBase
	stream models.StreamKind
	target *ConnectivityGuard
}

func NewThroughputHandler(topic string, stream models.StreamKind, g *ConnectivityGuard, pipe *middleware.TelemetryPipeline) *ThroughputHandler {
	return &ThroughputHandler{handlerBase: handlerBase{topic: topic, guard: g.Name(), pipe: pipe, now: time.Now}, stream: stream, target: g}
}

func (h *ThroughputHandler) Handle(ctx context.Context, b []byte) error {
	var m throughputMessage
	if !h.decode(b, &m) {
		return nil
	}
	h.target.ObserveThroughput(ctx, models.ThroughputTick{
		Endpoint:   m.Endpoint,
		Stream:     h.stream,
		MsgsPerSec: m.MsgsPerSec,
		GapMs:      m.GapMs,
		Timestamp:  m.TS.OrNow(h.now()),
	})
	return nil
}

// RateLimitHandler consumes telemetry.ratelimit.
type RateLimitHandler struct {
	handlerBase
	target *ConnectivityGuard
}

func NewRateLimitHandler(topic string, g *ConnectivityGuard, pipe *middleware.TelemetryPipeline) *RateLimitHandler {
	return &RateLimitHandler{handlerBase: handlerBase{topic: topic, guard: g.Name(), pipe: pipe, now: time.Now}, target: g}
}

func (h *RateLimitHandler) Handle(ctx context.Context, b []byte) error {
	var m rateLimitMessage
	if !h.decode(b, &m) {
		return nil
	}
	h.target.ObserveRateLimit(ctx, models.RateLimitSnapshot{
		Endpoint:  m.Endpoint,
		Used:      m.Used,
		Limit:     m.Limit,
		Timestamp: m.TS.OrNow(h.now()),
	})
	return nil
}

// JourneyHandler consumes telemetry.order_journey.
type JourneyHandler struct {
	handlerBase
	target *ExecutionGuard
}

func NewJourneyHandler(topic string, g *ExecutionGuard, pipe *middleware.TelemetryPipeline) *JourneyHandler {
	return &JourneyHandler{handlerBase: handlerBase{topic: topic, guard: g.Name(), pipe: pipe, now: time.Now}, target: g}
}

func (h *JourneyHandler) Handle(ctx context.Context, b []byte) error {
	var m journeyMessage
	if !h.decode(b, &m) {
		return nil
	}
	h.target.ObserveJourney(ctx, models.OrderJourney{
		Symbol:      m.Symbol,
		Side:        m.Side,
		PlaceMs:     m.PlaceMs,
		AckMs:       m.AckMs,
		FirstFillMs: m.FirstFillMs,
		FullFillMs:  m.FullFillMs,
		SlippageBps: m.SlippageBps,
		Timestamp:   m.TS.OrNow(h.now()),
	})
	return nil
}

// ContextHandler consumes telemetry.context. An empty tag list or a zero
// ttl clears the active tags.
type ContextHandler struct {
	handlerBase
	target *ExecutionGuard
}

func NewContextHandler(topic string, g *ExecutionGuard, pipe *middleware.TelemetryPipeline) *ContextHandler {
	return &ContextHandler{handlerBase: handlerBase{topic: topic, guard: g.Name(), pipe: pipe, now: time.Now}, target: g}
}

func (h *ContextHandler) Handle(ctx context.Context, b []byte) error {
	var m contextMessage
	if !h.decode(b, &m) {
		return nil
	}
	if m.TTLSec < 0 {
		h.pipe.Reject(h.guard, middleware.DropInvalid, fmt.Errorf("%w: negative ttl_sec %.0f", guard.ErrInvalidSample, m.TTLSec))
		return nil
	}
	at := m.TS.OrNow(h.now())
	h.target.ObserveContext(ctx, models.ContextTags{
		Tags:      m.Tags,
		ExpiresAt: at.Add(time.Duration(m.TTLSec * float64(time.Second))),
	})
	return nil
}

// OverrideHandler consumes guard.override. An empty guard field targets
// the execution guard; mode normal withdraws the source's override.
type OverrideHandler struct {
	handlerBase
	guards map[string]Guard
	def    string
}

func NewOverrideHandler(topic string, guards []Guard, def string, pipe *middleware.TelemetryPipeline) *OverrideHandler {
	m := make(map[string]Guard, len(guards))
	for _, g := range guards {
		m[g.Name()] = g
	}
	return &OverrideHandler{handlerBase: handlerBase{topic: topic, guard: def, pipe: pipe, now: time.Now}, guards: m, def: def}
}

func (h *OverrideHandler) Handle(_ context.Context, b []byte) error {
	var m overrideMessage
	if !h.decode(b, &m) {
		return nil
	}
	name := m.Guard
	if name == "" {
		name = h.def
	}
	target, ok := h.guards[name]
	if !ok {
		h.pipe.Reject(h.def, middleware.DropInvalid, fmt.Errorf("%w: override for unknown guard %q", guard.ErrInvalidSample, name))
		return nil
	}
	if m.Source == "" {
		h.pipe.Reject(name, middleware.DropInvalid, fmt.Errorf("%w: override without source", guard.ErrInvalidSample))
		return nil
	}
	if m.Mode == models.ModeNormal {
		target.ClearOverride(m.Source)
		return nil
	}
	err := target.ApplyOverride(models.OverrideSignal{
		Mode:      m.Mode,
		Source:    m.Source,
		Reason:    m.Reason,
		ExpiresAt: m.ExpiresAt.Time,
	})
	if err != nil {
		reason := middleware.DropInvalid
		if errors.Is(err, guard.ErrOverrideExpired) {
			reason = middleware.DropStale
		}
		h.pipe.Reject(name, reason, err)
	}
	return nil
}

var (
	_ pkgkafka.MessageHandler = (*PingHandler)(nil)
	_ pkgkafka.MessageHandler = (*ThroughputHandler)(nil)
	_ pkgkafka.MessageHandler = (*RateLimitHandler)(nil)
	_ pkgkafka.MessageHandler = (*JourneyHandler)(nil)
	_ pkgkafka.MessageHandler = (*ContextHandler)(nil)
	_ pkgkafka.MessageHandler = (*OverrideHandler)(nil)
)
