package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domrepo "TradeGuard/internal/domain/repository"
	pkgkafka "TradeGuard/pkg/kafka"
	"TradeGuard/pkg/logger"
)

type memJournal struct {
	mu      sync.Mutex
	rows    []domrepo.JournalEntry
	batches int
	fail    error
}

func (m *memJournal) Init(context.Context) error { return nil }

func (m *memJournal) Append(_ context.Context, entries ...domrepo.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.batches++
	m.rows = append(m.rows, entries...)
	return nil
}

func (m *memJournal) Recent(_ context.Context, _ string, _ int) ([]domrepo.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domrepo.JournalEntry(nil), m.rows...), nil
}

func (m *memJournal) Health(context.Context) error { return nil }

func (m *memJournal) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func TestJournalRecorderKeepsEntriesOnFailure(t *testing.T) {
	j := &memJournal{fail: errors.New("clickhouse down")}
	rec := NewJournalRecorder(j, 10, time.Hour, logger.Nop())
	ctx := context.Background()

	rec.Add(domrepo.JournalEntry{Kind: JournalDirective, EventID: "d-1"})
	rec.Add(domrepo.JournalEntry{Kind: JournalDirective, EventID: "d-2"})
	require.Error(t, rec.Flush(ctx))

	j.mu.Lock()
	j.fail = nil
	j.mu.Unlock()
	rec.Add(domrepo.JournalEntry{Kind: JournalFailover, EventID: "f-1"})
	require.NoError(t, rec.Flush(ctx))

	rows, _ := j.Recent(ctx, "", 0)
	require.Len(t, rows, 3)
	assert.Equal(t, "d-1", rows[0].EventID)
	assert.Equal(t, "f-1", rows[2].EventID)
	assert.NoError(t, rec.Flush(ctx), "nothing left to write")
	assert.Equal(t, 1, j.batches)
}

func TestJournalRecorderFlushesFullBatch(t *testing.T) {
	j := &memJournal{}
	rec := NewJournalRecorder(j, 3, time.Hour, logger.Nop())
	rec.Start(context.Background())

	for i := 0; i < 3; i++ {
		rec.Add(domrepo.JournalEntry{Kind: JournalDirective})
	}
	require.Eventually(t, func() bool { return j.len() == 3 }, time.Second, 5*time.Millisecond)

	rec.Add(domrepo.JournalEntry{Kind: JournalDirective})
	require.NoError(t, rec.Stop(context.Background()))
	assert.Equal(t, 4, j.len())
}

func TestJournalHandlers(t *testing.T) {
	j := &memJournal{}
	rec := NewJournalRecorder(j, 10, time.Hour, logger.Nop())
	ctx := context.Background()

	dh := NewDirectiveJournalHandler("guard.directive", rec)
	fh := NewFailoverJournalHandler("guard.failover", rec)
	assert.Equal(t, "guard.directive", dh.Topic())
	assert.Equal(t, "guard.failover", fh.Topic())

	require.NoError(t, dh.Handle(ctx, []byte(`{"id":"d-7","mode":"panic","label":"panic","reason_codes":["rtt_p99_panic"],"timestamp":"2024-03-01T12:00:00Z","expires_at":"2024-03-01T12:05:00Z","source":"connectivity","forced":false}`)))
	require.NoError(t, fh.Handle(ctx, []byte(`{"id":"f-2","from_endpoint":"ep-a","to_endpoint":"ep-b","reason_codes":["active_unreachable"],"timestamp":"2024-03-01T12:00:00Z"}`)))

	err := dh.Handle(ctx, []byte(`not json`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkgkafka.ErrSkip))
	assert.ErrorIs(t, fh.Handle(ctx, []byte(`[`)), pkgkafka.ErrSkip)

	require.NoError(t, rec.Flush(ctx))
	rows, _ := j.Recent(ctx, "", 0)
	require.Len(t, rows, 2)
	assert.Equal(t, domrepo.JournalEntry{
		Kind:        JournalDirective,
		Guard:       "connectivity",
		EventID:     "d-7",
		Mode:        "panic",
		ReasonCodes: []string{"rtt_p99_panic"},
		At:          epoch,
		ExpiresAt:   epoch.Add(5 * time.Minute),
	}, rows[0])
	assert.Equal(t, "ep-a", rows[1].FromID)
	assert.Equal(t, "ep-b", rows[1].ToID)
	assert.Equal(t, ConnectivityGuardName, rows[1].Guard)
}

func TestDirectiveJournalKeysRowsByGuardName(t *testing.T) {
	f := newFixture()
	g := baseGuardConfig()
	g.Source = "desk-exec"
	exec := f.service(t, ExecutionGuardName, g, DefaultExecutionPredicates())

	j := &memJournal{}
	rec := NewJournalRecorder(j, 10, time.Hour, logger.Nop())
	ctx := context.Background()
	dh := NewDirectiveJournalHandler("guard.directive", rec, exec)

	require.NoError(t, dh.Handle(ctx, []byte(`{"id":"d-1","mode":"panic","reason_codes":["ack_panic"],"timestamp":"2024-03-01T12:00:00Z","source":"desk-exec"}`)))
	require.NoError(t, dh.Handle(ctx, []byte(`{"id":"d-2","mode":"degraded","reason_codes":["rtt_degraded"],"timestamp":"2024-03-01T12:00:01Z","source":"remote-conn"}`)))
	require.NoError(t, rec.Flush(ctx))

	rows, err := j.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ExecutionGuardName, rows[0].Guard)
	// foreign sources are kept as-is
	assert.Equal(t, "remote-conn", rows[1].Guard)
}
