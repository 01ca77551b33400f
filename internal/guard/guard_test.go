package guard

import (
	"fmt"
	"time"

	"TradeGuard/internal/domain/models"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock { return &fakeClock{t: epoch} }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

type recordingSink struct{ directives []*models.Directive }

func (r *recordingSink) PublishDirective(d *models.Directive) {
	r.directives = append(r.directives, d)
}

func (r *recordingSink) modes() []models.ModeLevel {
	out := make([]models.ModeLevel, 0, len(r.directives))
	for _, d := range r.directives {
		out = append(out, d.Mode)
	}
	return out
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("d-%d", n)
	}
}

// staticView serves fixed EWMA values; every metric counts as sampled.
type staticView map[string]float64

func (v staticView) EWMA(name string) float64                       { return v[name] }
func (v staticView) Percentile(name string, _ float64) float64      { return v[name] }
func (v staticView) Max(name string) float64                        { return v[name] }
func (v staticView) Count(string) int                               { return 100 }
func (v staticView) Silence(name string, _ time.Time) time.Duration { return time.Duration(v[name]) * time.Second }
