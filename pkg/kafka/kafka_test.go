package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type scriptedHandler struct {
	topic string
	errs  []error
	calls int
}

func (h *scriptedHandler) Topic() string { return h.topic }

func (h *scriptedHandler) Handle(context.Context, []byte) error {
	h.calls++
	if h.calls <= len(h.errs) {
		return h.errs[h.calls-1]
	}
	return nil
}

func testConsumer(t *testing.T, h MessageHandler, dlq MessageWriter) (*Consumer, *fakeReader) {
	t.Helper()
	c := newConsumer(&ConsumerConfig{
		RetryMax:   2,
		BackoffMin: time.Millisecond,
		BackoffMax: 2 * time.Millisecond,
		BufferSize: 1,
		DLQTopic:   "guard.dlq",
		Registerer: prometheus.NewRegistry(),
	})
	c.dlq = dlq
	reader := &fakeReader{}
	c.RegisterHandler(h)
	c.readers[h.Topic()] = reader
	return c, reader
}

func TestConsumerRetriesThenCommits(t *testing.T) {
	h := &scriptedHandler{topic: "telemetry.ping", errs: []error{errors.New("transient")}}
	c, reader := testConsumer(t, h, nil)

	c.process(&message{topic: h.topic, km: kafka.Message{Offset: 7, Value: []byte(`{}`)}})

	assert.Equal(t, 2, h.calls)
	assert.Equal(t, []int64{7}, reader.committed)
}

func TestConsumerSkipIsNotRetried(t *testing.T) {
	h := &scriptedHandler{topic: "telemetry.ping", errs: []error{ErrSkip}}
	dlq := &fakeWriter{}
	c, reader := testConsumer(t, h, dlq)

	c.process(&message{topic: h.topic, km: kafka.Message{Offset: 3}})

	assert.Equal(t, 1, h.calls)
	assert.Empty(t, dlq.msgs)
	assert.Equal(t, []int64{3}, reader.committed)
}

func TestConsumerDeadLettersAfterExhaustion(t *testing.T) {
	boom := errors.New("boom")
	h := &scriptedHandler{topic: "guard.override", errs: []error{boom, boom, boom, boom}}
	dlq := &fakeWriter{}
	c, reader := testConsumer(t, h, dlq)

	c.process(&message{topic: h.topic, km: kafka.Message{Offset: 11, Value: []byte("x")}})

	assert.Equal(t, 3, h.calls) // first attempt + RetryMax
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "guard.dlq", dlq.msgs[0].Topic)
	assert.Equal(t, "guard.override", string(dlq.msgs[0].Headers[0].Value))
	assert.Equal(t, []int64{11}, reader.committed)
}

func TestConsumerStopsWorkers(t *testing.T) {
	h := &scriptedHandler{topic: "telemetry.ping"}
	c, _ := testConsumer(t, h, nil)
	c.run()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
}

func TestHookChainRecoversPanics(t *testing.T) {
	var errSeen error
	chain := NewHookChain(
		HookFuncs{Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
			panic("bad hook")
		}},
		HookFuncs{Err: func(_ context.Context, _ string, _ kafka.Message, _ []byte, err error) { errSeen = err }},
	)

	_, _, _, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "ERR_PANIC", hookErr.Code)
	assert.Equal(t, err, errSeen)
}

func TestTracingHookPropagatesHeader(t *testing.T) {
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	ctx, _, _, err := TracingHook().BeforeHandle(context.Background(), "t", km, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", TraceID(ctx))
}

func TestProducerEncodesPayloads(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "gzip")

	require.NoError(t, p.Publish(context.Background(), "guard.directive", []byte("execution"), map[string]string{"mode": "panic"}))
	require.NoError(t, p.PublishMessage(context.Background(), "guard.logs", "raw"))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "guard.directive", w.msgs[0].Topic)
	assert.Equal(t, "execution", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"mode":"panic"}`, string(w.msgs[0].Value))
	assert.Nil(t, w.msgs[1].Key)
	assert.Equal(t, "raw", string(w.msgs[1].Value))
}

func TestProducerPropagatesWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := NewProducerWithWriter(w, "gzip")
	assert.Error(t, p.Publish(context.Background(), "guard.directive", nil, "x"))
}
