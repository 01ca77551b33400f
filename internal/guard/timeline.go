package guard

import (
	"time"

	"TradeGuard/internal/domain/models"
)

type segment struct {
	mode  models.ModeLevel
	start time.Time
}

// Timeline records committed-mode changes and reports how a recent horizon
// was split across modes.
type Timeline struct {
	horizon  time.Duration
	segments []segment
}

func NewTimeline(horizon time.Duration, start time.Time) *Timeline {
	if horizon <= 0 {
		horizon = time.Hour
	}
	return &Timeline{horizon: horizon, segments: []segment{{mode: models.ModeNormal, start: start}}}
}

// Record notes that mode became committed at at.
func (t *Timeline) Record(mode models.ModeLevel, at time.Time) {
	if n := len(t.segments); n > 0 && t.segments[n-1].mode == mode {
		return
	}
	t.segments = append(t.segments, segment{mode: mode, start: at})
	t.trim(at)
}

// trim drops segments that ended before the horizon.
func (t *Timeline) trim(now time.Time) {
	cutoff := now.Add(-t.horizon)
	i := 0
	for i+1 < len(t.segments) && !t.segments[i+1].start.After(cutoff) {
		i++
	}
	if i > 0 {
		t.segments = append(t.segments[:0], t.segments[i:]...)
	}
}

// Fractions returns the share of the horizon (or of the observed history
// when shorter) spent in each mode, keyed by canonical mode name.
func (t *Timeline) Fractions(now time.Time) map[string]float64 {
	out := make(map[string]float64, len(models.Modes))
	for _, m := range models.Modes {
		out[m.String()] = 0
	}
	if len(t.segments) == 0 {
		return out
	}

	cutoff := now.Add(-t.horizon)
	var total time.Duration
	spent := make(map[models.ModeLevel]time.Duration)
	for i, seg := range t.segments {
		start := seg.start
		if start.Before(cutoff) {
			start = cutoff
		}
		end := now
		if i+1 < len(t.segments) {
			end = t.segments[i+1].start
		}
		if end.After(start) {
			spent[seg.mode] += end.Sub(start)
			total += end.Sub(start)
		}
	}
	if total <= 0 {
		out[t.segments[len(t.segments)-1].mode.String()] = 1
		return out
	}
	for m, d := range spent {
		out[m.String()] = float64(d) / float64(total)
	}
	return out
}
