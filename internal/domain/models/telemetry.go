package models

import "time"

// MetricSample is one raw telemetry value. It is consumed immediately by a
// smoother and never stored beyond the smoother window.
type MetricSample struct {
	Name      string
	Value     float64
	Timestamp time.Time
	SourceTag string
}

// PingResult is a single round-trip probe against an endpoint.
type PingResult struct {
	Endpoint  string
	RTTMs     float64
	OK        bool
	Transport string // "ws", "rest", "fix"
	Timestamp time.Time
}

// StreamKind distinguishes the two throughput feeds watched by the
// connectivity guard.
type StreamKind string

const (
	StreamMarketData  StreamKind = "marketdata"
	StreamOrderStream StreamKind = "orderstream"
)

// ThroughputTick reports message rate and the largest gap seen on a stream.
type ThroughputTick struct {
	Endpoint   string
	Stream     StreamKind
	MsgsPerSec float64
	GapMs      float64
	Timestamp  time.Time
}

// RateLimitSnapshot is the request-weight usage of one endpoint.
type RateLimitSnapshot struct {
	Endpoint  string
	Used      float64
	Limit     float64
	Timestamp time.Time
}

// Utilization returns used/limit clamped to [0,1].
func (r RateLimitSnapshot) Utilization() float64 {
	if r.Limit <= 0 {
		return 1
	}
	u := r.Used / r.Limit
	switch {
	case u < 0:
		return 0
	case u > 1:
		return 1
	}
	return u
}

// OrderJourney is the latency and price outcome of one order.
type OrderJourney struct {
	Symbol      string
	Side        string // "buy" | "sell"
	PlaceMs     float64
	AckMs       float64
	FirstFillMs float64
	FullFillMs  float64
	SlippageBps float64
	Timestamp   time.Time
}

// ContextTags are market conditions ("high_volatility", "session_open")
// under which thresholds are tightened.
type ContextTags struct {
	Tags      []string
	ExpiresAt time.Time
}
