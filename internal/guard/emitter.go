package guard

import (
	"time"

	"github.com/google/uuid"

	"TradeGuard/internal/domain/models"
)

const (
	DefaultValidity      = 5 * time.Minute
	DefaultRefreshBefore = time.Minute
)

// Emitter builds time-bounded directives and suppresses repeats of the last
// one. It is not safe for concurrent use.
type Emitter struct {
	source        string
	labels        models.ModeLabels
	validity      time.Duration
	refreshBefore time.Duration
	newID         func() string
	last          *models.Directive
}

func NewEmitter(source string, labels models.ModeLabels, validity, refreshBefore time.Duration) *Emitter {
	if validity <= 0 {
		validity = DefaultValidity
	}
	if refreshBefore < 0 || refreshBefore >= validity {
		refreshBefore = 0
	}
	return &Emitter{
		source:        source,
		labels:        labels,
		validity:      validity,
		refreshBefore: refreshBefore,
		newID:         uuid.NewString,
	}
}

// MaybeEmit returns a new directive when mode or the reason set differs from
// the last emitted one, or when a non-Normal directive is about to lapse.
func (e *Emitter) MaybeEmit(mode models.ModeLevel, reasons []string, now time.Time) (*models.Directive, bool) {
	codes := reasonCodes(mode, reasons)
	if e.last != nil && e.last.Mode == mode && models.SameReasons(e.last.ReasonCodes, codes) && !e.due(now) {
		return nil, false
	}
	return e.emit(mode, codes, now, false), true
}

// Force always emits.
func (e *Emitter) Force(mode models.ModeLevel, reasons []string, now time.Time) *models.Directive {
	return e.emit(mode, reasons, now, true)
}

func (e *Emitter) Last() *models.Directive { return e.last }

// Restore seeds dedup state with a previously published directive.
func (e *Emitter) Restore(d *models.Directive) { e.last = d }

func (e *Emitter) due(now time.Time) bool {
	if e.last.Mode == models.ModeNormal {
		return false
	}
	return !now.Before(e.last.ExpiresAt.Add(-e.refreshBefore))
}

func (e *Emitter) emit(mode models.ModeLevel, reasons []string, now time.Time, forced bool) *models.Directive {
	d := &models.Directive{
		ID:          e.newID(),
		Mode:        mode,
		Label:       e.labels.Label(mode),
		ExpiresAt:   now.Add(e.validity),
		ReasonCodes: reasonCodes(mode, reasons),
		EmittedAt:   now,
		Source:      e.source,
		Forced:      forced,
	}
	e.last = d
	return d
}

// reasonCodes never leaves a non-Normal directive without a reason.
func reasonCodes(mode models.ModeLevel, reasons []string) []string {
	codes := models.UniqueReasons(reasons)
	if len(codes) == 0 && mode != models.ModeNormal {
		codes = []string{"mode:" + mode.String()}
	}
	return codes
}
