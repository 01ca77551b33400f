package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TradeGuard/internal/domain/repository"
)

const journalTable = "guard_journal"

// journalDB is the part of pkg/clickhouse.Client the journal uses.
type journalDB interface {
	InitSchema(ctx context.Context, stmts []string) error
	InsertBatch(ctx context.Context, query string, rows [][]any) error
	DB() *sql.DB
	Health(ctx context.Context) error
}

// ClickHouseJournal implements Journal on a MergeTree table ordered by guard
// and time.
type ClickHouseJournal struct {
	db    journalDB
	table string
	ttl   time.Duration
}

func NewClickHouseJournal(db journalDB, retention time.Duration) *ClickHouseJournal {
	return &ClickHouseJournal{db: db, table: journalTable, ttl: retention}
}

var _ repository.Journal = (*ClickHouseJournal)(nil)

func (j *ClickHouseJournal) schema() []string {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	kind         LowCardinality(String),
	guard        LowCardinality(String),
	event_id     String,
	mode         LowCardinality(String),
	from_id      String,
	to_id        String,
	reason_codes Array(String),
	forced       UInt8,
	at           DateTime64(3, 'UTC'),
	expires_at   DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree
ORDER BY (guard, at, event_id)`, j.table)
	if j.ttl > 0 {
		ddl += fmt.Sprintf("\nTTL toDateTime(at) + INTERVAL %d SECOND", int64(j.ttl.Seconds()))
	}
	return []string{ddl}
}

func (j *ClickHouseJournal) Init(ctx context.Context) error {
	return j.db.InitSchema(ctx, j.schema())
}

func (j *ClickHouseJournal) insertQuery() string {
	return fmt.Sprintf("INSERT INTO %s (kind, guard, event_id, mode, from_id, to_id, reason_codes, forced, at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", j.table)
}

// Append writes entries in one batch. The event id is part of the sort key,
// so a redelivered entry collapses on merge.
func (j *ClickHouseJournal) Append(ctx context.Context, entries ...repository.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, journalRow(e))
	}
	if err := j.db.InsertBatch(ctx, j.insertQuery(), rows); err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	return nil
}

func journalRow(e repository.JournalEntry) []any {
	var forced uint8
	if e.Forced {
		forced = 1
	}
	reasons := e.ReasonCodes
	if reasons == nil {
		reasons = []string{}
	}
	return []any{e.Kind, e.Guard, e.EventID, e.Mode, e.FromID, e.ToID, reasons, forced, e.At.UTC(), e.ExpiresAt.UTC()}
}

// Recent returns the newest entries of guard, newest first. An empty guard
// selects all guards.
func (j *ClickHouseJournal) Recent(ctx context.Context, guard string, limit int) ([]repository.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := fmt.Sprintf("SELECT kind, guard, event_id, mode, from_id, to_id, reason_codes, forced, at, expires_at FROM %s FINAL", j.table)
	args := []any{}
	if guard != "" {
		q += " WHERE guard = ?"
		args = append(args, guard)
	}
	q += " ORDER BY at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []repository.JournalEntry
	for rows.Next() {
		var (
			e      repository.JournalEntry
			forced uint8
		)
		if err := rows.Scan(&e.Kind, &e.Guard, &e.EventID, &e.Mode, &e.FromID, &e.ToID, &e.ReasonCodes, &forced, &e.At, &e.ExpiresAt); err != nil {
			return nil, err
		}
		e.Forced = forced == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *ClickHouseJournal) Health(ctx context.Context) error {
	return j.db.Health(ctx)
}
