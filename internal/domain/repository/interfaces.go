package repository

import (
	"context"
	"time"

	"TradeGuard/internal/domain/models"
)

// Publisher writes guard outputs to the outbound transport.
type Publisher interface {
	PublishDirective(ctx context.Context, d *models.Directive) error
	PublishSnapshot(ctx context.Context, s *models.MetricsSnapshot) error
	PublishFailover(ctx context.Context, r *models.FailoverRecommendation) error
	PublishAdvice(ctx context.Context, a *models.Advice) error
	Close() error
}

// DirectiveStore keeps the last directive per guard so a restarted process
// can resume its committed mode.
type DirectiveStore interface {
	Save(ctx context.Context, guard string, d *models.Directive) error
	Load(ctx context.Context, guard string) (*models.Directive, error)
}

// JournalEntry is one row of the directive history.
type JournalEntry struct {
	Kind        string    `json:"kind"` // "directive" | "failover"
	Guard       string    `json:"guard"`
	EventID     string    `json:"event_id"`
	Mode        string    `json:"mode,omitempty"`
	FromID      string    `json:"from,omitempty"`
	ToID        string    `json:"to,omitempty"`
	ReasonCodes []string  `json:"reason_codes"`
	Forced      bool      `json:"forced,omitempty"`
	At          time.Time `json:"at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// Journal is the append-only history of emitted directives and failover
// recommendations.
type Journal interface {
	Init(ctx context.Context) error
	Append(ctx context.Context, entries ...JournalEntry) error
	Recent(ctx context.Context, guard string, limit int) ([]JournalEntry, error)
	Health(ctx context.Context) error
}

// Alert is an operator-visible condition distinct from directives.
type Alert struct {
	Key      string            `json:"key"`
	Severity string            `json:"severity"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
	At       time.Time         `json:"timestamp"`
}

type Alerter interface {
	Send(ctx context.Context, a Alert) error
}

// Metrics is the guard-side view of the metrics backend.
type Metrics interface {
	RecordSample(guard, metric string)
	RecordSampleDropped(guard, reason string)
	RecordMode(guard string, mode models.ModeLevel)
	RecordTransition(guard string, from, to models.ModeLevel)
	RecordDirective(guard string, mode models.ModeLevel, forced bool)
	RecordEWMA(guard, metric string, value float64)
	RecordModeFraction(guard string, mode string, fraction float64)
	RecordEndpointScore(endpoint string, score float64)
	RecordFailover(from, to string)
	RecordPublish(kind string, err error)
	RecordEvaluation(guard string, seconds float64)
}
