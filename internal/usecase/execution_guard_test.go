package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeGuard/internal/domain/models"
	"TradeGuard/pkg/logger"
)

func TestContextScale(t *testing.T) {
	c := NewContextScale(map[string]float64{"high_volatility": 0.8, "session_open": 0.9, "news_event": 0.5}, 0.5)

	assert.Equal(t, 1.0, c.Scale(epoch))

	c.Set(models.ContextTags{Tags: []string{"high_volatility", "session_open", "unknown"}, ExpiresAt: epoch.Add(time.Minute)})
	assert.InDelta(t, 0.72, c.Scale(epoch), 1e-9)
	assert.Equal(t, []string{"high_volatility", "session_open", "unknown"}, c.Active(epoch))

	c.Set(models.ContextTags{Tags: []string{"high_volatility", "news_event"}, ExpiresAt: epoch.Add(time.Minute)})
	assert.Equal(t, 0.5, c.Scale(epoch), "bounded by the minimum scale")

	assert.Equal(t, 1.0, c.Scale(epoch.Add(time.Minute)), "expired tags do not tighten")
	assert.Nil(t, c.Active(epoch.Add(time.Minute)))
}

func TestExecutionJourneySkipsUnreachedStages(t *testing.T) {
	f := newFixture()
	g := f.execution(t)
	s := g.Controller().Smoother()

	g.ObserveJourney(context.Background(), models.OrderJourney{Symbol: "BTCUSDT", Side: "buy", PlaceMs: 12, AckMs: 40, SlippageBps: 3, Timestamp: epoch})
	assert.Equal(t, 1, s.Count(MetricPlace))
	assert.Equal(t, 1, s.Count(MetricAck))
	assert.Equal(t, 0, s.Count(MetricFirstFill))
	assert.Equal(t, 0, s.Count(MetricSlippage), "unfilled orders carry no slippage")

	g.ObserveJourney(context.Background(), models.OrderJourney{Symbol: "BTCUSDT", Side: "sell", PlaceMs: 12, AckMs: 40, FirstFillMs: 90, FullFillMs: 150, SlippageBps: -1.5, Timestamp: epoch})
	assert.Equal(t, 1, s.Count(MetricFirstFill))
	assert.Equal(t, 1, s.Count(MetricFullFill))
	assert.Equal(t, 1, s.Count(MetricSlippage))
}

func TestExecutionContextTightensThresholds(t *testing.T) {
	feed := func(g *ExecutionGuard) {
		for i := 0; i < 20; i++ {
			g.ObserveJourney(context.Background(), models.OrderJourney{Symbol: "ETHUSDT", Side: "buy", AckMs: 450, Timestamp: epoch})
		}
		g.Evaluate()
	}

	calm := newFixture().execution(t)
	feed(calm)
	assert.Equal(t, models.ModeNormal, calm.Controller().Mode())

	tense := newFixture().execution(t)
	tense.ObserveContext(context.Background(), models.ContextTags{Tags: []string{"high_volatility"}, ExpiresAt: epoch.Add(time.Minute)})
	feed(tense)
	assert.Equal(t, models.ModeDegraded, tense.Controller().Mode())
	st := tense.Status()
	assert.Equal(t, "slowdown", st.Label)
	assert.Equal(t, []string{"high_volatility"}, st.ContextTags)
	assert.Contains(t, st.ReasonCodes, "ack_latency_high")
}

func TestExecutionAdviceOnlyOnChange(t *testing.T) {
	f := newFixture()
	g := f.execution(t)

	g.Evaluate()
	g.Evaluate()
	require.Len(t, f.sink.advice, 1)
	assert.Equal(t, models.StyleMarket, f.sink.advice[0].PreferredStyle)
	assert.Equal(t, ExecutionGuardName, f.sink.advice[0].Source)

	_, err := g.Force(models.ModePanic, "desk_request")
	require.NoError(t, err)
	g.Evaluate()
	require.Len(t, f.sink.advice, 2)
	assert.Equal(t, models.ModePanic, f.sink.advice[1].Mode)
	assert.Equal(t, models.StylePassiveLimit, f.sink.advice[1].PreferredStyle)
	assert.Same(t, f.sink.advice[1], g.Advice())
}

func TestPeerOverrideFollowsConnectivity(t *testing.T) {
	f := newFixture()
	conn := f.connectivity(t)
	exec := f.execution(t)
	LinkPeer(conn.GuardService, exec, models.ModeHaltEntry, logger.Nop())

	_, err := conn.Force(models.ModePanic, "")
	require.NoError(t, err)
	assert.Equal(t, models.ModeNormal, exec.Controller().Mode(), "below the peer threshold")

	_, err = conn.Force(models.ModeHaltEntry, "exchange_down")
	require.NoError(t, err)
	assert.Equal(t, models.ModeHaltEntry, exec.Controller().Mode())
	st := exec.Status()
	require.NotNil(t, st.Override)
	assert.Equal(t, "peer:connectivity", st.Override.Source)
	assert.Equal(t, "halt_entry", st.Label)

	_, err = conn.Force(models.ModeNormal, "")
	require.NoError(t, err)
	assert.Nil(t, exec.Status().Override)
}
