package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeGuard/internal/domain/models"
	domrepo "TradeGuard/internal/domain/repository"
	"TradeGuard/pkg/cache"
)

type published struct {
	topic string
	key   string
	value []byte
}

type fakeProducer struct{ msgs []published }

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.msgs = append(f.msgs, published{topic: topic, key: string(key), value: b})
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func TestKafkaPublisherRoutesByKind(t *testing.T) {
	fp := &fakeProducer{}
	p := NewKafkaPublisher(fp, Topics{Directive: "guard.directive", Metrics: "guard.metrics", Failover: "guard.failover.recommendation", Advice: "guard.advice"})
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, p.PublishDirective(ctx, &models.Directive{ID: "d-1", Mode: models.ModePanic, Source: "connectivity", ReasonCodes: []string{"rtt_p99_panic"}, EmittedAt: at, ExpiresAt: at.Add(5 * time.Minute)}))
	require.NoError(t, p.PublishSnapshot(ctx, &models.MetricsSnapshot{Guard: "execution"}))
	require.NoError(t, p.PublishFailover(ctx, &models.FailoverRecommendation{FromEndpoint: "ep-a", ToEndpoint: "ep-b"}))
	require.NoError(t, p.PublishAdvice(ctx, &models.Advice{Source: "execution", PreferredStyle: models.StyleLimit}))

	require.Len(t, fp.msgs, 4)
	assert.Equal(t, "guard.directive", fp.msgs[0].topic)
	assert.Equal(t, "connectivity", fp.msgs[0].key)
	assert.JSONEq(t, `{"id":"d-1","mode":"panic","label":"","expires_at":"2024-03-01T12:05:00Z","reason_codes":["rtt_p99_panic"],"timestamp":"2024-03-01T12:00:00Z","source":"connectivity"}`, string(fp.msgs[0].value))
	assert.Equal(t, "guard.metrics", fp.msgs[1].topic)
	assert.Equal(t, "guard.failover.recommendation", fp.msgs[2].topic)
	assert.Equal(t, "ep-a", fp.msgs[2].key)
	assert.Equal(t, "guard.advice", fp.msgs[3].topic)
}

func TestCacheDirectiveStoreRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mc := cache.NewMemoryCache(cache.WithMemoryClock(func() time.Time { return now }))
	defer mc.Close()
	s := NewCacheDirectiveStore(mc)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	missing, err := s.Load(ctx, "execution")
	require.NoError(t, err)
	assert.Nil(t, missing)

	d := &models.Directive{ID: "d-9", Mode: models.ModeDegraded, Label: "slowdown", Source: "execution",
		ReasonCodes: []string{"ack_latency_high"}, EmittedAt: now, ExpiresAt: now.Add(5 * time.Minute)}
	require.NoError(t, s.Save(ctx, "execution", d))

	got, err := s.Load(ctx, "execution")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, models.ModeDegraded, got.Mode)
	assert.True(t, d.ExpiresAt.Equal(got.ExpiresAt))

	ttl, ok := mc.TTL("directive:execution")
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, ttl)
}

func TestCacheDirectiveStoreDropsExpired(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mc := cache.NewMemoryCache(cache.WithMemoryClock(func() time.Time { return now }))
	defer mc.Close()
	s := NewCacheDirectiveStore(mc)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "directive:execution", models.Directive{ID: "old"}, time.Hour))
	require.NoError(t, s.Save(ctx, "execution", &models.Directive{ID: "stale", ExpiresAt: now.Add(-time.Second)}))

	got, err := s.Load(ctx, "execution")
	require.NoError(t, err)
	assert.Nil(t, got)
}

type fakeJournalDB struct {
	schema []string
	query  string
	rows   [][]any
}

func (f *fakeJournalDB) InitSchema(_ context.Context, stmts []string) error {
	f.schema = stmts
	return nil
}

func (f *fakeJournalDB) InsertBatch(_ context.Context, query string, rows [][]any) error {
	f.query = query
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeJournalDB) DB() *sql.DB                  { return nil }
func (f *fakeJournalDB) Health(context.Context) error { return nil }

func TestClickHouseJournalAppend(t *testing.T) {
	db := &fakeJournalDB{}
	j := NewClickHouseJournal(db, 30*24*time.Hour)
	ctx := context.Background()

	require.NoError(t, j.Init(ctx))
	require.Len(t, db.schema, 1)
	assert.Contains(t, db.schema[0], "CREATE TABLE IF NOT EXISTS guard_journal")
	assert.Contains(t, db.schema[0], "INTERVAL 2592000 SECOND")

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.Append(ctx,
		domrepo.JournalEntry{Kind: "directive", Guard: "execution", EventID: "d-1", Mode: "panic", ReasonCodes: []string{"fill_latency_panic"}, Forced: true, At: at, ExpiresAt: at.Add(5 * time.Minute)},
		domrepo.JournalEntry{Kind: "failover", Guard: "connectivity", EventID: "f-1", FromID: "ep-a", ToID: "ep-b", At: at},
	))
	assert.Contains(t, db.query, "INSERT INTO guard_journal")
	require.Len(t, db.rows, 2)
	assert.Equal(t, uint8(1), db.rows[0][7])
	assert.Equal(t, []string{}, db.rows[1][6])
	assert.Equal(t, "ep-b", db.rows[1][5])

	require.NoError(t, j.Append(ctx))
	assert.Len(t, db.rows, 2)
}
