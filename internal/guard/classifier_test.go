package guard

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeGuard/internal/domain/models"
)

func connectivityPredicates() []Predicate {
	return []Predicate{
		Above(models.ModeDegraded, "rtt_ewma_degraded", "rtt_ms", 600),
		PercentileAbove(models.ModePanic, "rtt_p99_panic", "rtt_ms", 99, 1500),
		Above(models.ModePanic, "rtt_ewma_panic", "rtt_ms", 1500),
		Below(models.ModeDegraded, "md_rate_low", "md_msgs", 50, 3),
		SilentFor(models.ModeHaltEntry, "orderstream_silent", "os_msgs", 20*time.Second),
	}
}

func TestClassifyMostSevereWins(t *testing.T) {
	preds := OrderPredicates(connectivityPredicates())

	tests := []struct {
		name    string
		view    staticView
		want    models.ModeLevel
		reasons []string
	}{
		{
			name: "nothing breached",
			view: staticView{"rtt_ms": 100, "md_msgs": 200},
			want: models.ModeNormal,
		},
		{
			name:    "degraded only",
			view:    staticView{"rtt_ms": 700, "md_msgs": 200},
			want:    models.ModeDegraded,
			reasons: []string{"rtt_ewma_degraded"},
		},
		{
			name:    "panic and degraded together",
			view:    staticView{"rtt_ms": 1600, "md_msgs": 10},
			want:    models.ModePanic,
			reasons: []string{"rtt_p99_panic", "rtt_ewma_panic", "rtt_ewma_degraded", "md_rate_low"},
		},
		{
			name:    "silence beats everything",
			view:    staticView{"rtt_ms": 1600, "md_msgs": 200, "os_msgs": 30},
			want:    models.ModeHaltEntry,
			reasons: []string{"orderstream_silent", "rtt_p99_panic", "rtt_ewma_panic", "rtt_ewma_degraded"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.view, preds, epoch, 1)
			assert.Equal(t, tt.want, got.Mode)
			assert.Equal(t, tt.reasons, got.Reasons)
		})
	}
}

func TestClassifyIgnoresDeclaredOrderOnceOrdered(t *testing.T) {
	// Degraded declared first on purpose.
	preds := OrderPredicates([]Predicate{
		Above(models.ModeDegraded, "slow", "ack_ms", 100),
		Above(models.ModePanic, "very_slow", "ack_ms", 200),
	})
	got := Classify(staticView{"ack_ms": 500}, preds, epoch, 1)
	assert.Equal(t, models.ModePanic, got.Mode)
}

func TestClassifyUnorderedInputStillPicksMostSevere(t *testing.T) {
	preds := []Predicate{
		Above(models.ModeDegraded, "slow", "ack_ms", 100),
		Above(models.ModeHaltEntry, "stalled", "ack_ms", 400),
		Above(models.ModePanic, "very_slow", "ack_ms", 200),
	}
	got := Classify(staticView{"ack_ms": 500}, preds, epoch, 1)
	assert.Equal(t, models.ModeHaltEntry, got.Mode)
	assert.Equal(t, []string{"slow", "stalled", "very_slow"}, got.Reasons)
}

func TestPredicateScaleTightens(t *testing.T) {
	ceiling := Above(models.ModeDegraded, "ack_slow", "ack_ms", 1000)
	floor := Below(models.ModeDegraded, "fill_rate_low", "fills", 10, 1)

	v := staticView{"ack_ms": 850, "fills": 11}
	assert.False(t, ceiling.Breached(v, epoch, 1))
	assert.True(t, ceiling.Breached(v, epoch, 0.8))
	assert.False(t, floor.Breached(v, epoch, 1))
	assert.True(t, floor.Breached(v, epoch, 0.8))
}

func TestBelowWaitsForWarmup(t *testing.T) {
	s := NewSmoother()
	p := Below(models.ModeDegraded, "md_rate_low", "md_msgs", 50, 3)

	s.Update("md_msgs", 100, epoch)
	assert.False(t, p.Breached(s, epoch, 1), "ewma 30 but only one sample")
	s.Update("md_msgs", 100, epoch)
	s.Update("md_msgs", 100, epoch)
	assert.False(t, p.Breached(s, epoch, 1), "ewma 65.7 is above floor")
}

func TestValidatePredicates(t *testing.T) {
	require.NoError(t, ValidatePredicates(connectivityPredicates()))

	err := ValidatePredicates([]Predicate{
		Above(models.ModeDegraded, "rtt_degraded", "rtt_ms", 1500),
		Above(models.ModePanic, "rtt_panic", "rtt_ms", 1200),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInconsistentThresholds))

	err = ValidatePredicates([]Predicate{
		Below(models.ModeDegraded, "rate_low", "md_msgs", 10, 1),
		Below(models.ModePanic, "rate_very_low", "md_msgs", 20, 1),
	})
	assert.ErrorIs(t, err, ErrInconsistentThresholds)

	err = ValidatePredicates([]Predicate{{Mode: models.ModeNormal, Metric: "x"}})
	assert.ErrorIs(t, err, ErrInconsistentThresholds)
}
