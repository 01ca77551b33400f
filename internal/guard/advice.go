package guard

import (
	"fmt"

	"TradeGuard/internal/domain/models"
)

// AdviceRow is the base execution shape for one mode.
type AdviceRow struct {
	Style        models.OrderStyle
	MaxSlices    int
	SliceDelayMs int
}

// AdvicePolicy is the mode table plus the slippage adjustment.
type AdvicePolicy struct {
	Table           map[models.ModeLevel]AdviceRow
	SoftSlippageBps float64
	HardSliceCap    int
}

func DefaultAdvicePolicy() AdvicePolicy {
	return AdvicePolicy{
		Table: map[models.ModeLevel]AdviceRow{
			models.ModeNormal:    {Style: models.StyleMarket, MaxSlices: 1, SliceDelayMs: 0},
			models.ModeDegraded:  {Style: models.StyleLimit, MaxSlices: 2, SliceDelayMs: 250},
			models.ModePanic:     {Style: models.StylePassiveLimit, MaxSlices: 4, SliceDelayMs: 1000},
			models.ModeHaltEntry: {Style: models.StyleReduceOnly, MaxSlices: 1, SliceDelayMs: 2000},
		},
		SoftSlippageBps: 8,
		HardSliceCap:    6,
	}
}

// AdviseFor maps the committed mode to execution parameters. Slippage above
// the soft threshold adds one slice, never past the hard cap.
func AdviseFor(policy AdvicePolicy, mode models.ModeLevel, slippageBps float64) models.Advice {
	row, ok := policy.Table[mode]
	if !ok {
		row = DefaultAdvicePolicy().Table[mode]
	}
	adv := models.Advice{
		Mode:           mode,
		PreferredStyle: row.Style,
		MaxSlices:      row.MaxSlices,
		SliceDelayMs:   row.SliceDelayMs,
		Reasoning:      []string{"mode:" + mode.String()},
	}
	if slippageBps > policy.SoftSlippageBps {
		adv.Reasoning = append(adv.Reasoning, fmt.Sprintf("slippage_%.1fbps_above_soft", slippageBps))
		if adv.MaxSlices < policy.HardSliceCap {
			adv.MaxSlices++
		} else {
			adv.Reasoning = append(adv.Reasoning, "slice_cap_reached")
		}
	}
	if policy.HardSliceCap > 0 && adv.MaxSlices > policy.HardSliceCap {
		adv.MaxSlices = policy.HardSliceCap
	}
	return adv
}
