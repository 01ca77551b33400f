package models

import "time"

// EndpointHealth is the health score of one redundant resource.
type EndpointHealth struct {
	EndpointID    string    `json:"endpoint"`
	Score         float64   `json:"score"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	Active        bool      `json:"active"`
}

// FailoverRecommendation suggests moving traffic between endpoints. It is
// advisory only.
type FailoverRecommendation struct {
	ID           string    `json:"id"`
	FromEndpoint string    `json:"from_endpoint"`
	ToEndpoint   string    `json:"to_endpoint"`
	ScoreFrom    float64   `json:"score_from"`
	ScoreTo      float64   `json:"score_to"`
	ReasonCodes  []string  `json:"reason_codes"`
	Timestamp    time.Time `json:"timestamp"`
}

// OrderStyle is the preferred way to work an order.
type OrderStyle string

const (
	StyleMarket       OrderStyle = "market"
	StyleLimit        OrderStyle = "limit"
	StylePassiveLimit OrderStyle = "passive_limit"
	StyleReduceOnly   OrderStyle = "reduce_only"
)

// Advice shapes how orders are placed under the current mode.
type Advice struct {
	Mode           ModeLevel  `json:"mode"`
	PreferredStyle OrderStyle `json:"preferred_style"`
	MaxSlices      int        `json:"max_slices"`
	SliceDelayMs   int        `json:"slice_delay_ms"`
	Reasoning      []string   `json:"reasoning"`
	Timestamp      time.Time  `json:"timestamp,omitempty"`
	Source         string     `json:"source,omitempty"`
}

// Equivalent compares the actionable part of two advices.
func (a *Advice) Equivalent(b *Advice) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Mode == b.Mode &&
		a.PreferredStyle == b.PreferredStyle &&
		a.MaxSlices == b.MaxSlices &&
		a.SliceDelayMs == b.SliceDelayMs
}

// GuardStatus answers the synchronous admin status query.
type GuardStatus struct {
	Guard           string             `json:"guard"`
	Mode            ModeLevel          `json:"mode"`
	Label           string             `json:"label"`
	ModeAgeSeconds  float64            `json:"mode_age_seconds"`
	SmoothedMetrics map[string]float64 `json:"smoothed_metrics"`
	EndpointScores  map[string]float64 `json:"endpoint_scores,omitempty"`
	ContextTags     []string           `json:"context_tags,omitempty"`
	ReasonCodes     []string           `json:"reason_codes"`
	Override        *OverrideSignal    `json:"override,omitempty"`
	LastDirective   *Directive         `json:"last_directive,omitempty"`
}

// MetricsSnapshot is the periodic observational report of one guard.
type MetricsSnapshot struct {
	Guard           string             `json:"guard"`
	Mode            ModeLevel          `json:"mode"`
	EWMA            map[string]float64 `json:"ewma"`
	ModeFractions   map[string]float64 `json:"mode_fractions"`
	DirectivesTotal int64              `json:"directives_total"`
	EndpointScores  map[string]float64 `json:"endpoint_scores,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
}
