package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"TradeGuard/internal/domain/models"
	domrepo "TradeGuard/internal/domain/repository"
	"TradeGuard/internal/service/alert"
	"TradeGuard/pkg/logger"
)

var ErrQueueFull = errors.New("dispatch queue full")

// Publish kinds, used as metric labels.
const (
	KindDirective = "directive"
	KindSnapshot  = "snapshot"
	KindFailover  = "failover"
	KindAdvice    = "advice"
)

type Config struct {
	BufferSize       int
	PublishTimeout   time.Duration
	BreakerFailures  uint32
	BreakerOpenFor   time.Duration
	BreakerHalfOpenN uint32
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 3
	}
	if c.BreakerOpenFor <= 0 {
		c.BreakerOpenFor = 30 * time.Second
	}
	if c.BreakerHalfOpenN == 0 {
		c.BreakerHalfOpenN = 1
	}
	return c
}

type job struct {
	kind    string
	guard   string
	publish func(ctx context.Context) error
	before  func(ctx context.Context) error
}

// Dispatcher moves guard outputs off the evaluation path. Enqueueing never
// blocks: a full queue drops the item and counts it. One worker writes to
// the publisher through a circuit breaker; when the breaker opens an
// operator alert is raised.
type Dispatcher struct {
	pub     domrepo.Publisher
	store   domrepo.DirectiveStore
	alerter domrepo.Alerter
	metrics domrepo.Metrics
	log     *logger.Logger
	cfg     Config
	breaker *gobreaker.CircuitBreaker

	ch      chan job
	stop    chan struct{}
	stopped atomic.Bool
	once    sync.Once
	wg      sync.WaitGroup
	dropped atomic.Int64
}

type Option func(*Dispatcher)

// WithDirectiveStore saves every dispatched directive before publishing it.
func WithDirectiveStore(s domrepo.DirectiveStore) Option {
	return func(d *Dispatcher) { d.store = s }
}

func WithAlerter(a domrepo.Alerter) Option {
	return func(d *Dispatcher) { d.alerter = a }
}

func WithLogger(l *logger.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

func New(pub domrepo.Publisher, metrics domrepo.Metrics, cfg Config, opts ...Option) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		pub:     pub,
		metrics: metrics,
		cfg:     cfg,
		alerter: alert.NoopAlerter{},
		log:     logger.Nop(),
		ch:      make(chan job, cfg.BufferSize),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("dispatcher")
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "guard-publisher",
		MaxRequests: cfg.BreakerHalfOpenN,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: d.onStateChange,
	})
	return d
}

func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop drains what is already queued, bounded by ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.once.Do(func() {
		d.stopped.Store(true)
		close(d.stop)
	})
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped is the number of items discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// BreakerState reports the publisher circuit state.
func (d *Dispatcher) BreakerState() string { return d.breaker.State().String() }

// PublishDirective implements guard.Sink.
func (d *Dispatcher) PublishDirective(dir *models.Directive) {
	j := job{
		kind:    KindDirective,
		guard:   dir.Source,
		publish: func(ctx context.Context) error { return d.pub.PublishDirective(ctx, dir) },
	}
	if d.store != nil {
		j.before = func(ctx context.Context) error { return d.store.Save(ctx, dir.Source, dir) }
	}
	d.enqueue(j)
}

func (d *Dispatcher) PublishSnapshot(s *models.MetricsSnapshot) {
	d.enqueue(job{kind: KindSnapshot, guard: s.Guard, publish: func(ctx context.Context) error { return d.pub.PublishSnapshot(ctx, s) }})
}

func (d *Dispatcher) PublishFailover(r *models.FailoverRecommendation) {
	d.enqueue(job{kind: KindFailover, guard: r.FromEndpoint, publish: func(ctx context.Context) error { return d.pub.PublishFailover(ctx, r) }})
}

func (d *Dispatcher) PublishAdvice(a *models.Advice) {
	d.enqueue(job{kind: KindAdvice, guard: a.Source, publish: func(ctx context.Context) error { return d.pub.PublishAdvice(ctx, a) }})
}

func (d *Dispatcher) enqueue(j job) {
	if d.stopped.Load() {
		d.drop(j, "stopped")
		return
	}
	select {
	case d.ch <- j:
	default:
		d.drop(j, "queue_full")
	}
}

func (d *Dispatcher) drop(j job, why string) {
	d.dropped.Add(1)
	d.metrics.RecordPublish(j.kind, ErrQueueFull)
	d.log.Warn("dispatch dropped",
		logger.String("kind", j.kind),
		logger.String("guard", j.guard),
		logger.String("reason", why),
	)
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.ch:
			d.handle(j)
		case <-d.stop:
			for {
				select {
				case j := <-d.ch:
					d.handle(j)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) handle(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
	defer cancel()

	if j.before != nil {
		if err := j.before(ctx); err != nil {
			d.log.Warn("directive store save failed", logger.String("guard", j.guard), logger.Error(err))
		}
	}

	_, err := d.breaker.Execute(func() (interface{}, error) {
		return nil, j.publish(ctx)
	})
	d.metrics.RecordPublish(j.kind, err)
	if err != nil {
		d.log.Error("publish failed",
			logger.String("kind", j.kind),
			logger.String("guard", j.guard),
			logger.String("breaker", d.breaker.State().String()),
			logger.Error(err),
		)
	}
}

func (d *Dispatcher) onStateChange(name string, from, to gobreaker.State) {
	d.log.Info("publisher breaker state changed",
		logger.String("breaker", name),
		logger.String("from", from.String()),
		logger.String("to", to.String()),
	)
	if to != gobreaker.StateOpen {
		return
	}
	a := domrepo.Alert{
		Key:      alert.KeyPublishFailing,
		Severity: alert.SeverityCritical,
		Title:    "guard publish failing",
		Message:  fmt.Sprintf("%d consecutive publish failures, publisher paused for %s", d.cfg.BreakerFailures, d.cfg.BreakerOpenFor),
		Fields:   map[string]string{"breaker": name},
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
		defer cancel()
		if err := d.alerter.Send(ctx, a); err != nil {
			d.log.Warn("publish alert failed", logger.Error(err))
		}
	}()
}
