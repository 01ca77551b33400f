package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domrepo "TradeGuard/internal/domain/repository"
	"TradeGuard/pkg/logger"
)

type countingAlerter struct {
	n   atomic.Int32
	err error
}

func (c *countingAlerter) Send(context.Context, domrepo.Alert) error {
	c.n.Add(1)
	return c.err
}

func testAlert() domrepo.Alert {
	return domrepo.Alert{
		Key:      KeyPublishFailing,
		Severity: SeverityCritical,
		Title:    "directive publish failing",
		Message:  "publisher circuit opened",
		Fields:   map[string]string{"guard": "connectivity"},
	}
}

func TestMultiAlerterCooldown(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ch := &countingAlerter{}
	m := NewMultiAlerter(time.Minute, logger.Nop(), ch)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Send(context.Background(), testAlert()))
	require.NoError(t, m.Send(context.Background(), testAlert()))
	assert.Equal(t, int32(1), ch.n.Load())

	other := testAlert()
	other.Key = KeyInconsistentThresholds
	require.NoError(t, m.Send(context.Background(), other))
	assert.Equal(t, int32(2), ch.n.Load())

	now = now.Add(time.Minute)
	require.NoError(t, m.Send(context.Background(), testAlert()))
	assert.Equal(t, int32(3), ch.n.Load())
}

func TestMultiAlerterPartialFailure(t *testing.T) {
	bad := &countingAlerter{err: errors.New("down")}
	good := &countingAlerter{}
	m := NewMultiAlerter(time.Hour, logger.Nop(), bad, good)

	err := m.Send(context.Background(), testAlert())
	assert.Error(t, err)
	assert.Equal(t, int32(1), good.n.Load())
}

func TestWebhookAlerterPayload(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := testAlert()
	a.At = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, NewWebhookAlerter(srv.URL, time.Second).Send(context.Background(), a))

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, KeyPublishFailing, got["key"])
	assert.Equal(t, "critical", got["severity"])
	assert.Equal(t, "2024-03-01T12:00:00Z", got["time"])
}

func TestWebhookAlerterStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookAlerter(srv.URL, time.Second).Send(context.Background(), testAlert())
	assert.Error(t, err)
}

type capturePublisher struct {
	topic   string
	payload interface{}
}

func (c *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	c.topic, c.payload = topic, payload
	return nil
}

func TestKafkaAlerter(t *testing.T) {
	p := &capturePublisher{}
	require.NoError(t, NewKafkaAlerter(p, "guard.alerts").Send(context.Background(), testAlert()))
	assert.Equal(t, "guard.alerts", p.topic)
	assert.Equal(t, KeyPublishFailing, p.payload.(domrepo.Alert).Key)
}
