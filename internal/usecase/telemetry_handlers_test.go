package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeGuard/internal/domain/models"
	"TradeGuard/internal/middleware"
)

// 2024-03-01T12:00:00Z, the fixture clock.
const epochMs = "1709294400000"

func TestPingHandlerFeedsGuard(t *testing.T) {
	f := newFixture()
	g := f.connectivity(t)
	h := NewPingHandler("telemetry.ping", g, f.pipe)
	ctx := context.Background()

	assert.Equal(t, "telemetry.ping", h.Topic())
	require.NoError(t, h.Handle(ctx, []byte(`{"endpoint":"ep-a","rtt_ms":120,"ok":true,"ts":`+epochMs+`}`)))
	assert.InDelta(t, 36, g.Controller().Smoother().EWMA(MetricRTT), 1e-9)

	require.NoError(t, h.Handle(ctx, []byte(`{"endpoint":`)))
	require.NoError(t, h.Handle(ctx, []byte(`{"endpoint":"ep-a","rtt_ms":-5,"ok":true,"ts":`+epochMs+`}`)))
	assert.Equal(t, 1, g.Controller().Smoother().Count(MetricRTT))
	assert.Equal(t, 1.0, f.counter(t, "tradeguard_samples_dropped_total", map[string]string{"reason": middleware.DropDecode}))
	assert.Equal(t, 1.0, f.counter(t, "tradeguard_samples_dropped_total", map[string]string{"reason": middleware.DropInvalid}))
}

func TestThroughputHandlerUsesStream(t *testing.T) {
	f := newFixture()
	g := f.connectivity(t)
	md := NewThroughputHandler("telemetry.marketdata", models.StreamMarketData, g, f.pipe)
	orders := NewThroughputHandler("telemetry.orderstream", models.StreamOrderStream, g, f.pipe)
	ctx := context.Background()

	require.NoError(t, md.Handle(ctx, []byte(`{"endpoint":"ep-a","msgs_per_sec":40,"gap_ms":100,"ts":`+epochMs+`}`)))
	require.NoError(t, orders.Handle(ctx, []byte(`{"endpoint":"ep-a","msgs_per_sec":2,"gap_ms":500,"ts":"2024-03-01T12:00:00Z"}`)))

	s := g.Controller().Smoother()
	assert.Equal(t, 1, s.Count(MetricMarketDataRate))
	assert.Equal(t, 1, s.Count(MetricOrderStreamRate))
	assert.InDelta(t, 12, s.EWMA(MetricMarketDataRate), 1e-9)
	assert.InDelta(t, 150, s.EWMA(MetricOrderStreamGap), 1e-9)
}

func TestRateLimitHandler(t *testing.T) {
	f := newFixture()
	g := f.connectivity(t)
	h := NewRateLimitHandler("telemetry.ratelimit", g, f.pipe)

	require.NoError(t, h.Handle(context.Background(), []byte(`{"endpoint":"ep-a","used":900,"limit":1200,"ts":`+epochMs+`}`)))
	assert.InDelta(t, 0.225, g.Controller().Smoother().EWMA(MetricRateLimitUtil), 1e-9)
}

func TestJourneyAndContextHandlers(t *testing.T) {
	f := newFixture()
	g := f.execution(t)
	journey := NewJourneyHandler("telemetry.order_journey", g, f.pipe)
	tags := NewContextHandler("telemetry.context", g, f.pipe)
	ctx := context.Background()

	require.NoError(t, journey.Handle(ctx, []byte(`{"symbol":"BTCUSDT","side":"buy","place_ms":10,"ack_ms":30,"first_fill_ms":80,"slippage_bps":2,"ts":`+epochMs+`}`)))
	assert.Equal(t, 1, g.Controller().Smoother().Count(MetricSlippage))

	require.NoError(t, tags.Handle(ctx, []byte(`{"tags":["session_open","high_volatility"],"ttl_sec":60,"ts":`+epochMs+`}`)))
	assert.Equal(t, []string{"high_volatility", "session_open"}, g.Status().ContextTags)

	require.NoError(t, tags.Handle(ctx, []byte(`{"tags":["news_event"],"ttl_sec":-1,"ts":`+epochMs+`}`)))
	assert.Equal(t, []string{"high_volatility", "session_open"}, g.Status().ContextTags)

	require.NoError(t, tags.Handle(ctx, []byte(`{"tags":[],"ttl_sec":0,"ts":`+epochMs+`}`)))
	assert.Empty(t, g.Status().ContextTags)
}

func TestOverrideHandler(t *testing.T) {
	f := newFixture()
	conn := f.connectivity(t)
	exec := f.execution(t)
	h := NewOverrideHandler("guard.override", []Guard{conn, exec}, ExecutionGuardName, f.pipe)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, []byte(`{"mode":"halt_entry","source":"risk-desk","reason":"exposure","expires_at":1709295000000}`)))
	assert.Equal(t, models.ModeHaltEntry, exec.Controller().Mode())
	require.NotNil(t, exec.Status().Override)
	assert.Equal(t, "risk-desk", exec.Status().Override.Source)
	assert.Equal(t, models.ModeNormal, conn.Controller().Mode())

	require.NoError(t, h.Handle(ctx, []byte(`{"guard":"connectivity","mode":"panic","source":"noc","expires_at":1709294000000}`)))
	assert.Equal(t, models.ModeNormal, conn.Controller().Mode())
	assert.Equal(t, 1.0, f.counter(t, "tradeguard_samples_dropped_total", map[string]string{"reason": middleware.DropStale}))

	require.NoError(t, h.Handle(ctx, []byte(`{"guard":"pricing","mode":"panic","source":"noc","expires_at":1709295000000}`)))
	require.NoError(t, h.Handle(ctx, []byte(`{"mode":"panic","expires_at":1709295000000}`)))
	assert.Equal(t, 2.0, f.counter(t, "tradeguard_samples_dropped_total", map[string]string{"reason": middleware.DropInvalid}))

	require.NoError(t, h.Handle(ctx, []byte(`{"mode":"normal","source":"risk-desk"}`)))
	assert.Nil(t, exec.Status().Override)
}
