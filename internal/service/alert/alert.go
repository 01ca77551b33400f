package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	domrepo "TradeGuard/internal/domain/repository"
	"TradeGuard/pkg/logger"
)

// Alert keys raised by the service.
const (
	KeyInconsistentThresholds = "inconsistent_thresholds"
	KeyPublishFailing         = "publish_failing"
)

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// MultiAlerter fans an alert out to every channel, suppressing repeats of
// the same key within the cooldown.
type MultiAlerter struct {
	alerters []domrepo.Alerter
	cooldown time.Duration
	log      *logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewMultiAlerter(cooldown time.Duration, log *logger.Logger, alerters ...domrepo.Alerter) *MultiAlerter {
	if log == nil {
		log = logger.Nop()
	}
	return &MultiAlerter{
		alerters: alerters,
		cooldown: cooldown,
		log:      log.With("alerter"),
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

var _ domrepo.Alerter = (*MultiAlerter)(nil)

// Send delivers a once to each channel. A failing channel does not stop the
// others; the first error is returned. Alerts are never retried.
func (m *MultiAlerter) Send(ctx context.Context, a domrepo.Alert) error {
	now := m.now()
	if a.At.IsZero() {
		a.At = now
	}

	m.mu.Lock()
	if last, ok := m.lastSent[a.Key]; ok && now.Sub(last) < m.cooldown {
		m.mu.Unlock()
		m.log.Debug("alert suppressed by cooldown", logger.String("key", a.Key))
		return nil
	}
	m.lastSent[a.Key] = now
	m.mu.Unlock()

	var errs []error
	for _, al := range m.alerters {
		if err := al.Send(ctx, a); err != nil {
			m.log.Warn("alert send failed",
				logger.String("key", a.Key),
				logger.String("channel", fmt.Sprintf("%T", al)),
				logger.Error(err),
			)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// LogAlerter writes alerts to the service log.
type LogAlerter struct {
	log *logger.Logger
}

func NewLogAlerter(log *logger.Logger) *LogAlerter {
	return &LogAlerter{log: log}
}

func (l *LogAlerter) Send(_ context.Context, a domrepo.Alert) error {
	fields := []logger.Field{
		logger.String("key", a.Key),
		logger.String("severity", a.Severity),
		logger.String("title", a.Title),
	}
	for k, v := range a.Fields {
		fields = append(fields, logger.String(k, v))
	}
	if a.Severity == SeverityCritical {
		l.log.Error(a.Message, fields...)
	} else {
		l.log.Warn(a.Message, fields...)
	}
	return nil
}

// NoopAlerter drops every alert.
type NoopAlerter struct{}

func (NoopAlerter) Send(context.Context, domrepo.Alert) error { return nil }
