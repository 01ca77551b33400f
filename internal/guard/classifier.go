package guard

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"TradeGuard/internal/domain/models"
)

// View is the read side of a Smoother consumed by predicates.
type View interface {
	EWMA(name string) float64
	Percentile(name string, p float64) float64
	Max(name string) float64
	Count(name string) int
	Silence(name string, now time.Time) time.Duration
}

// Stat selects which statistic of a metric a predicate looks at.
type Stat int

const (
	StatEWMA Stat = iota
	StatPercentile
	StatMax
	StatSilence // seconds since the last sample
)

func (s Stat) String() string {
	switch s {
	case StatEWMA:
		return "ewma"
	case StatPercentile:
		return "percentile"
	case StatMax:
		return "max"
	case StatSilence:
		return "silence"
	default:
		return fmt.Sprintf("stat(%d)", int(s))
	}
}

// Bound tells whether a predicate fires above a ceiling or below a floor.
type Bound int

const (
	Upper Bound = iota
	Lower
)

// Predicate is one threshold test that, when breached, calls for Mode.
type Predicate struct {
	Mode      models.ModeLevel
	Reason    string
	Metric    string
	Stat      Stat
	P         float64 // percentile for StatPercentile
	Bound     Bound
	Threshold float64
	// MinSamples keeps the predicate quiet until the metric has been seen
	// that many times. Floors use it so a fresh EWMA of zero does not trip.
	MinSamples int
}

// Above fires when the EWMA reaches threshold.
func Above(mode models.ModeLevel, reason, metric string, threshold float64) Predicate {
	return Predicate{Mode: mode, Reason: reason, Metric: metric, Stat: StatEWMA, Bound: Upper, Threshold: threshold, MinSamples: 1}
}

// PercentileAbove fires when the p-th percentile of the window reaches threshold.
func PercentileAbove(mode models.ModeLevel, reason, metric string, p, threshold float64) Predicate {
	return Predicate{Mode: mode, Reason: reason, Metric: metric, Stat: StatPercentile, P: p, Bound: Upper, Threshold: threshold, MinSamples: 1}
}

// Below fires when the EWMA drops under floor after warmup samples.
func Below(mode models.ModeLevel, reason, metric string, floor float64, warmup int) Predicate {
	return Predicate{Mode: mode, Reason: reason, Metric: metric, Stat: StatEWMA, Bound: Lower, Threshold: floor, MinSamples: warmup}
}

// SilentFor fires when the metric has not been updated for after.
func SilentFor(mode models.ModeLevel, reason, metric string, after time.Duration) Predicate {
	return Predicate{Mode: mode, Reason: reason, Metric: metric, Stat: StatSilence, Bound: Upper, Threshold: after.Seconds()}
}

// Value reads the statistic the predicate is defined over.
func (p Predicate) Value(v View, now time.Time) float64 {
	switch p.Stat {
	case StatPercentile:
		return v.Percentile(p.Metric, p.P)
	case StatMax:
		return v.Max(p.Metric)
	case StatSilence:
		return v.Silence(p.Metric, now).Seconds()
	default:
		return v.EWMA(p.Metric)
	}
}

// Breached evaluates the predicate with thresholds multiplied by scale.
// A scale under 1 tightens: ceilings drop and floors rise.
func (p Predicate) Breached(v View, now time.Time, scale float64) bool {
	if scale <= 0 {
		scale = 1
	}
	if p.Stat != StatSilence && v.Count(p.Metric) < p.MinSamples {
		return false
	}
	val := p.Value(v, now)
	if p.Bound == Lower {
		return val < p.Threshold/scale
	}
	return val >= p.Threshold*scale
}

// Classification is the candidate mode and every reason that matched, most
// severe first.
type Classification struct {
	Mode    models.ModeLevel
	Reasons []string
}

// Classify returns the most severe breached mode, or Normal when nothing
// breaches. Reasons follow the order of preds, so callers pass them through
// OrderPredicates to get the most severe reasons first.
func Classify(v View, preds []Predicate, now time.Time, scale float64) Classification {
	out := Classification{Mode: models.ModeNormal}
	for _, p := range preds {
		if !p.Breached(v, now, scale) {
			continue
		}
		out.Mode = models.MaxMode(out.Mode, p.Mode)
		out.Reasons = append(out.Reasons, p.Reason)
	}
	return out
}

// OrderPredicates returns a copy sorted by descending severity, keeping the
// declared order within one level.
func OrderPredicates(preds []Predicate) []Predicate {
	out := append([]Predicate(nil), preds...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Mode > out[j].Mode })
	return out
}

var ErrInconsistentThresholds = errors.New("inconsistent thresholds")

// ValidatePredicates checks that for every (metric, statistic, bound) a more
// severe mode uses a stricter threshold than a milder one.
func ValidatePredicates(preds []Predicate) error {
	type key struct {
		metric string
		stat   Stat
		p      float64
		bound  Bound
	}
	groups := make(map[key][]Predicate)
	var errs []error
	for _, p := range preds {
		if p.Reason == "" {
			errs = append(errs, fmt.Errorf("%w: predicate on %s has no reason code", ErrInconsistentThresholds, p.Metric))
		}
		if !p.Mode.Valid() || p.Mode == models.ModeNormal {
			errs = append(errs, fmt.Errorf("%w: %s targets mode %s", ErrInconsistentThresholds, p.Reason, p.Mode))
		}
		if p.Threshold < 0 {
			errs = append(errs, fmt.Errorf("%w: %s threshold %.2f is negative", ErrInconsistentThresholds, p.Reason, p.Threshold))
		}
		k := key{p.Metric, p.Stat, p.P, p.Bound}
		groups[k] = append(groups[k], p)
	}

	for k, group := range groups {
		sort.SliceStable(group, func(i, j int) bool { return group[i].Mode < group[j].Mode })
		for i := 1; i < len(group); i++ {
			milder, severe := group[i-1], group[i]
			if milder.Mode == severe.Mode {
				continue
			}
			ok := severe.Threshold > milder.Threshold
			if k.bound == Lower {
				ok = severe.Threshold < milder.Threshold
			}
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %s %s threshold %.2f (%s) is not stricter than %.2f (%s)",
					ErrInconsistentThresholds, k.metric, k.stat, severe.Threshold, severe.Mode, milder.Threshold, milder.Mode))
			}
		}
	}
	return errors.Join(errs...)
}
