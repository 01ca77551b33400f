package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"TradeGuard/internal/domain/models"
)

func TestAdviseForTable(t *testing.T) {
	policy := DefaultAdvicePolicy()

	tests := []struct {
		mode     models.ModeLevel
		slippage float64
		style    models.OrderStyle
		slices   int
		delay    int
	}{
		{models.ModeNormal, 1, models.StyleMarket, 1, 0},
		{models.ModeDegraded, 1, models.StyleLimit, 2, 250},
		{models.ModePanic, 1, models.StylePassiveLimit, 4, 1000},
		{models.ModeHaltEntry, 1, models.StyleReduceOnly, 1, 2000},
		{models.ModeNormal, 20, models.StyleMarket, 2, 0},
		{models.ModePanic, 20, models.StylePassiveLimit, 5, 1000},
	}

	for _, tt := range tests {
		adv := AdviseFor(policy, tt.mode, tt.slippage)
		assert.Equal(t, tt.style, adv.PreferredStyle, "%s/%.0f", tt.mode, tt.slippage)
		assert.Equal(t, tt.slices, adv.MaxSlices, "%s/%.0f", tt.mode, tt.slippage)
		assert.Equal(t, tt.delay, adv.SliceDelayMs, "%s/%.0f", tt.mode, tt.slippage)
		assert.NotEmpty(t, adv.Reasoning)
	}
}

func TestAdviseForRespectsHardCap(t *testing.T) {
	policy := DefaultAdvicePolicy()
	policy.HardSliceCap = 4

	adv := AdviseFor(policy, models.ModePanic, 50)
	assert.Equal(t, 4, adv.MaxSlices)
	assert.Contains(t, adv.Reasoning, "slice_cap_reached")
}

func TestTimelineFractions(t *testing.T) {
	tl := NewTimeline(time.Hour, epoch)
	tl.Record(models.ModeDegraded, epoch.Add(30*time.Minute))
	tl.Record(models.ModeNormal, epoch.Add(45*time.Minute))

	f := tl.Fractions(epoch.Add(time.Hour))
	assert.InDelta(t, 0.75, f["normal"], 1e-9)
	assert.InDelta(t, 0.25, f["degraded"], 1e-9)
	assert.Zero(t, f["panic"])

	// the first half hour falls out of the horizon
	f = tl.Fractions(epoch.Add(90 * time.Minute))
	assert.InDelta(t, 0.25, f["degraded"], 1e-9)
	assert.InDelta(t, 0.75, f["normal"], 1e-9)
}
