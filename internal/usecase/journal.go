package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"TradeGuard/internal/domain/models"
	domrepo "TradeGuard/internal/domain/repository"
	pkgkafka "TradeGuard/pkg/kafka"
	"TradeGuard/pkg/logger"
)

const (
	JournalDirective = "directive"
	JournalFailover  = "failover"
)

// JournalRecorder batches journal entries and writes them when the batch
// fills or on a timer. A failed write keeps the entries for the next
// attempt, up to ten batches; older entries are dropped first.
type JournalRecorder struct {
	journal    domrepo.Journal
	batchSize  int
	flushEvery time.Duration
	log        *logger.Logger

	mu  sync.Mutex
	buf []domrepo.JournalEntry

	kick chan struct{}
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewJournalRecorder(j domrepo.Journal, batchSize int, flushEvery time.Duration, log *logger.Logger) *JournalRecorder {
	if batchSize <= 0 {
		batchSize = 200
	}
	if flushEvery <= 0 {
		flushEvery = 2 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &JournalRecorder{
		journal:    j,
		batchSize:  batchSize,
		flushEvery: flushEvery,
		log:        log.With("journal"),
		kick:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

func (r *JournalRecorder) Add(e domrepo.JournalEntry) {
	r.mu.Lock()
	r.buf = append(r.buf, e)
	if max := r.batchSize * 10; len(r.buf) > max {
		r.buf = r.buf[len(r.buf)-max:]
	}
	full := len(r.buf) >= r.batchSize
	r.mu.Unlock()
	if full {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// Flush writes everything buffered.
func (r *JournalRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.buf
	r.buf = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	if err := r.journal.Append(ctx, batch...); err != nil {
		r.mu.Lock()
		r.buf = append(batch, r.buf...)
		if max := r.batchSize * 10; len(r.buf) > max {
			r.buf = r.buf[len(r.buf)-max:]
		}
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *JournalRecorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.flushEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
			case <-r.kick:
			}
			if err := r.Flush(ctx); err != nil {
				r.log.Error("journal flush failed", logger.Error(err))
			}
		}
	}()
}

// Stop ends the timer and writes what is left.
func (r *JournalRecorder) Stop(ctx context.Context) error {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
	return r.Flush(ctx)
}

// DirectiveJournalHandler records every directive seen on guard.directive.
// Rows are keyed by guard name; a directive whose source matches none of the
// local guards keeps its source as the key.
type DirectiveJournalHandler struct {
	topic string
	names map[string]string
	rec   *JournalRecorder
}

func NewDirectiveJournalHandler(topic string, rec *JournalRecorder, guards ...Guard) *DirectiveJournalHandler {
	names := make(map[string]string, len(guards))
	for _, g := range guards {
		names[g.Source()] = g.Name()
	}
	return &DirectiveJournalHandler{topic: topic, names: names, rec: rec}
}

func (h *DirectiveJournalHandler) Topic() string { return h.topic }

func (h *DirectiveJournalHandler) Handle(_ context.Context, b []byte) error {
	var d models.Directive
	if err := json.Unmarshal(b, &d); err != nil {
		return fmt.Errorf("%w: directive: %v", pkgkafka.ErrSkip, err)
	}
	name, ok := h.names[d.Source]
	if !ok {
		name = d.Source
	}
	h.rec.Add(domrepo.JournalEntry{
		Kind:        JournalDirective,
		Guard:       name,
		EventID:     d.ID,
		Mode:        d.Mode.String(),
		ReasonCodes: d.ReasonCodes,
		Forced:      d.Forced,
		At:          d.EmittedAt,
		ExpiresAt:   d.ExpiresAt,
	})
	return nil
}

// FailoverJournalHandler records every recommendation seen on the failover
// topic.
type FailoverJournalHandler struct {
	topic string
	guard string
	rec   *JournalRecorder
}

func NewFailoverJournalHandler(topic string, rec *JournalRecorder) *FailoverJournalHandler {
	return &FailoverJournalHandler{topic: topic, guard: ConnectivityGuardName, rec: rec}
}

func (h *FailoverJournalHandler) Topic() string { return h.topic }

func (h *FailoverJournalHandler) Handle(_ context.Context, b []byte) error {
	var r models.FailoverRecommendation
	if err := json.Unmarshal(b, &r); err != nil {
		return fmt.Errorf("%w: failover: %v", pkgkafka.ErrSkip, err)
	}
	h.rec.Add(domrepo.JournalEntry{
		Kind:        JournalFailover,
		Guard:       h.guard,
		EventID:     r.ID,
		FromID:      r.FromEndpoint,
		ToID:        r.ToEndpoint,
		ReasonCodes: r.ReasonCodes,
		At:          r.Timestamp,
	})
	return nil
}

var (
	_ pkgkafka.MessageHandler = (*DirectiveJournalHandler)(nil)
	_ pkgkafka.MessageHandler = (*FailoverJournalHandler)(nil)
)
