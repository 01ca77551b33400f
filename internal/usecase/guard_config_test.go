package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeGuard/internal/domain/models"
	"TradeGuard/internal/guard"
	"TradeGuard/pkg/config"
)

func TestDefaultPredicatesAreConsistent(t *testing.T) {
	assert.NoError(t, guard.ValidatePredicates(DefaultConnectivityPredicates()))
	assert.NoError(t, guard.ValidatePredicates(DefaultExecutionPredicates()))
}

func TestPredicatesFromConfig(t *testing.T) {
	preds, err := PredicatesFromConfig([]config.Threshold{
		{Mode: "panic", Reason: "rtt_p99_panic", Metric: "rtt_ms", Stat: "percentile", P: 99, Threshold: 1500},
		{Mode: "degraded", Reason: "marketdata_slow", Metric: "marketdata_msgs_per_sec", Bound: "lower", Threshold: 5, MinSamples: 5},
		{Mode: "halt_entry", Reason: "orderstream_silent", Metric: "orderstream_msgs_per_sec", Stat: "silence", Threshold: 60},
		{Mode: "degraded", Reason: "rtt_ewma_high", Metric: "rtt_ms", Threshold: 600},
	})
	require.NoError(t, err)
	require.Len(t, preds, 4)

	assert.Equal(t, guard.StatPercentile, preds[0].Stat)
	assert.Equal(t, 99.0, preds[0].P)
	assert.Equal(t, 1, preds[0].MinSamples)
	assert.Equal(t, guard.Lower, preds[1].Bound)
	assert.Equal(t, 5, preds[1].MinSamples)
	assert.Equal(t, models.ModeHaltEntry, preds[2].Mode)
	assert.Equal(t, 0, preds[2].MinSamples)
	assert.Equal(t, guard.StatEWMA, preds[3].Stat)
	assert.Equal(t, guard.Upper, preds[3].Bound)
}

func TestBuildGuardConfigMergesPolicy(t *testing.T) {
	g := baseGuardConfig()
	g.Labels = map[string]string{"degraded": "slowdown"}
	g.MinHold = map[string]time.Duration{"panic": 45 * time.Second}
	g.RecoveryMultiplier = 0.7

	cfg, err := BuildGuardConfig(ExecutionGuardName, g, time.Minute, DefaultExecutionPredicates())
	require.NoError(t, err)

	assert.Equal(t, "slowdown", cfg.Labels.Label(models.ModeDegraded))
	assert.Equal(t, "panic", cfg.Labels.Label(models.ModePanic))
	assert.Equal(t, 45*time.Second, cfg.Policy.MinHold[models.ModePanic])
	assert.Equal(t, guard.DefaultPolicy().MinHold[models.ModeHaltEntry], cfg.Policy.MinHold[models.ModeHaltEntry])
	assert.Equal(t, 0.7, cfg.Policy.RecoveryMultiplier)
	assert.Len(t, cfg.Predicates, len(DefaultExecutionPredicates()))
	assert.NoError(t, cfg.Validate())
}

func TestBuildGuardConfigFallsBackOnInconsistentThresholds(t *testing.T) {
	g := baseGuardConfig()
	g.Thresholds = []config.Threshold{
		{Mode: "panic", Reason: "rtt_panic", Metric: "rtt_ms", Threshold: 500},
		{Mode: "degraded", Reason: "rtt_high", Metric: "rtt_ms", Threshold: 600},
	}

	cfg, err := BuildGuardConfig(ConnectivityGuardName, g, time.Minute, DefaultConnectivityPredicates())
	require.Error(t, err)
	assert.ErrorIs(t, err, guard.ErrInconsistentThresholds)
	assert.Equal(t, DefaultConnectivityPredicates(), cfg.Predicates)
}

func TestBuildGuardConfigRejectsUnknownLevel(t *testing.T) {
	g := baseGuardConfig()
	g.EscalationBudget = map[string]time.Duration{"severe": time.Second}

	_, err := BuildGuardConfig(ConnectivityGuardName, g, time.Minute, DefaultConnectivityPredicates())
	assert.Error(t, err)
}

func TestSmootherOptionsPerMetricAlpha(t *testing.T) {
	g := baseGuardConfig()
	g.Alphas = map[string]float64{MetricRTT: 0.5}
	s := guard.NewSmoother(SmootherOptions(g, epoch)...)

	assert.InDelta(t, 50, s.Update(MetricRTT, 100, epoch).EWMA, 1e-9)
	assert.InDelta(t, 30, s.Update(MetricAck, 100, epoch).EWMA, 1e-9)
}
