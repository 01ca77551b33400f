package guard

import (
	"errors"
	"fmt"
	"time"

	"TradeGuard/internal/domain/models"
)

// Transition codes attached to reason sets on a commit change.
const (
	ReasonEscalationCapped = "escalation_capped"
	ReasonDecayStep        = "decay_step"
	ReasonManualOverride   = "manual_override"
	ReasonRecovered        = "recovered"
	ReasonRestored         = "restored"
	ReasonOverrideExpired  = "override_expired"
	reasonOverridePrefix   = "override:"
)

const DefaultRecoveryMultiplier = 0.8

// Policy holds the time-based damping parameters of a guard.
type Policy struct {
	// MinHold is how long a non-Normal level is protected from downgrade.
	MinHold map[models.ModeLevel]time.Duration
	// EscalationBudget is how long an intermediate level must be held before
	// an upgrade out of it is allowed.
	EscalationBudget map[models.ModeLevel]time.Duration
	// DecayWindow is how long the candidate must stay below the committed
	// level before one downgrade step.
	DecayWindow time.Duration
	// RecoveryMultiplier scales thresholds for the stricter recovery bar.
	RecoveryMultiplier float64
}

// DefaultPolicy is used for anything a guard leaves unset.
func DefaultPolicy() Policy {
	return Policy{
		MinHold: map[models.ModeLevel]time.Duration{
			models.ModeDegraded:  10 * time.Second,
			models.ModePanic:     30 * time.Second,
			models.ModeHaltEntry: 60 * time.Second,
		},
		EscalationBudget: map[models.ModeLevel]time.Duration{
			models.ModeDegraded: 5 * time.Second,
			models.ModePanic:    10 * time.Second,
		},
		DecayWindow:        30 * time.Second,
		RecoveryMultiplier: DefaultRecoveryMultiplier,
	}
}

func (p Policy) Validate() error {
	var errs []error
	if p.RecoveryMultiplier <= 0 || p.RecoveryMultiplier > 1 {
		errs = append(errs, fmt.Errorf("%w: recovery multiplier %.2f outside (0,1]", ErrInconsistentThresholds, p.RecoveryMultiplier))
	}
	if p.DecayWindow < 0 {
		errs = append(errs, fmt.Errorf("%w: negative decay window", ErrInconsistentThresholds))
	}
	for m, d := range p.MinHold {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%w: negative min hold for %s", ErrInconsistentThresholds, m))
		}
	}
	for m, d := range p.EscalationBudget {
		if !m.Intermediate() {
			errs = append(errs, fmt.Errorf("%w: escalation budget set for non-intermediate %s", ErrInconsistentThresholds, m))
		}
		if d < 0 {
			errs = append(errs, fmt.Errorf("%w: negative escalation budget for %s", ErrInconsistentThresholds, m))
		}
	}
	return errors.Join(errs...)
}

// Step is one hysteresis input.
type Step struct {
	Now       time.Time
	Candidate Classification
	// Recovery is the classification under thresholds scaled by the
	// recovery multiplier.
	Recovery Classification
	Override *models.OverrideSignal
}

// Transition is the outcome of one step.
type Transition struct {
	From    models.ModeLevel
	To      models.ModeLevel
	Changed bool
	Reasons []string
	At      time.Time
}

// Hysteresis turns candidate modes into a committed mode that does not
// thrash. It is not safe for concurrent use; the controller serializes it.
type Hysteresis struct {
	policy     Policy
	mode       models.ModeLevel
	enteredAt  time.Time
	belowSince time.Time
	overrideBy string
}

func NewHysteresis(policy Policy, now time.Time) *Hysteresis {
	return &Hysteresis{policy: policy, mode: models.ModeNormal, enteredAt: now}
}

func (h *Hysteresis) Mode() models.ModeLevel { return h.mode }
func (h *Hysteresis) EnteredAt() time.Time   { return h.enteredAt }
func (h *Hysteresis) Policy() Policy         { return h.policy }

// Step applies the damping rules in order: override, downgrade protection,
// escalation budget, decay, then plain commit. An active override also acts
// as a floor that decay never crosses.
func (h *Hysteresis) Step(s Step) Transition {
	from := h.mode
	held := s.Now.Sub(h.enteredAt)
	cand := s.Candidate.Mode

	floor := models.ModeNormal
	if s.Override.Active(s.Now) {
		floor = s.Override.Mode
		if floor > from || (floor == from && h.overrideBy != s.Override.Source) {
			h.overrideBy = s.Override.Source
			target, capped := h.escalation(from, held, cand)
			reasons := append([]string{reasonOverridePrefix + s.Override.Source}, s.Candidate.Reasons...)
			if s.Override.Reason != "" {
				reasons = append(reasons, s.Override.Reason)
			}
			if capped && target > floor {
				reasons = append(reasons, ReasonEscalationCapped)
			}
			return h.commit(from, models.MaxMode(floor, target), s.Now, reasons)
		}
	} else {
		h.overrideBy = ""
	}

	switch {
	case cand > from:
		h.belowSince = time.Time{}
		target, capped := h.escalation(from, held, cand)
		if target == from {
			return Transition{From: from, To: from, At: s.Now}
		}
		reasons := append([]string(nil), s.Candidate.Reasons...)
		if capped {
			reasons = append(reasons, ReasonEscalationCapped)
		}
		return h.commit(from, target, s.Now, reasons)

	case cand < from:
		if h.belowSince.IsZero() {
			h.belowSince = s.Now
		}
		if held < h.policy.MinHold[from] {
			return Transition{From: from, To: from, At: s.Now}
		}
		if s.Now.Sub(h.belowSince) < h.policy.DecayWindow {
			return Transition{From: from, To: from, At: s.Now}
		}
		if s.Recovery.Mode >= from {
			return Transition{From: from, To: from, At: s.Now}
		}
		target := from - 1
		if target < floor {
			return Transition{From: from, To: from, At: s.Now}
		}
		reasons := append([]string{ReasonDecayStep}, s.Candidate.Reasons...)
		if target == models.ModeNormal {
			reasons = []string{ReasonRecovered}
		}
		t := h.commit(from, target, s.Now, reasons)
		if cand < target {
			h.belowSince = s.Now
		}
		return t

	default:
		h.belowSince = time.Time{}
		return Transition{From: from, To: from, At: s.Now}
	}
}

// escalation returns the mode cand may reach from the current mode: held back
// while an intermediate budget runs, capped at panic when leaving normal.
func (h *Hysteresis) escalation(from models.ModeLevel, held time.Duration, cand models.ModeLevel) (models.ModeLevel, bool) {
	if cand <= from {
		return from, false
	}
	if from.Intermediate() && held < h.policy.EscalationBudget[from] {
		return from, false
	}
	if from == models.ModeNormal && cand > models.ModePanic {
		return models.ModePanic, true
	}
	return cand, false
}

// Force commits mode as if it had been computed, restarting every clock.
func (h *Hysteresis) Force(mode models.ModeLevel, now time.Time, reasons []string) Transition {
	h.overrideBy = ""
	t := h.commit(h.mode, mode, now, append([]string{ReasonManualOverride}, reasons...))
	h.enteredAt = now
	return t
}

// Restore resumes a previously committed mode, e.g. after a restart.
func (h *Hysteresis) Restore(mode models.ModeLevel, enteredAt time.Time) {
	h.mode = mode
	h.enteredAt = enteredAt
	h.belowSince = time.Time{}
	h.overrideBy = ""
}

func (h *Hysteresis) commit(from, to models.ModeLevel, now time.Time, reasons []string) Transition {
	h.mode = to
	h.belowSince = time.Time{}
	if from != to {
		h.enteredAt = now
	}
	return Transition{From: from, To: to, Changed: true, Reasons: models.UniqueReasons(reasons), At: now}
}
