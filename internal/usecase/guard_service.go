package usecase

import (
	"context"
	"sync"
	"time"

	"TradeGuard/internal/domain/models"
	domrepo "TradeGuard/internal/domain/repository"
	"TradeGuard/internal/guard"
	"TradeGuard/pkg/logger"
)

// Guard is what the admin API and the reporter see of a running guard.
type Guard interface {
	Name() string
	Source() string
	Status() models.GuardStatus
	Snapshot() models.MetricsSnapshot
	LastDirective() *models.Directive
	Force(mode models.ModeLevel, reason string) (*models.Directive, error)
	ApplyOverride(sig models.OverrideSignal) error
	ClearOverride(source string) bool
}

// GuardService runs one controller: periodic evaluation, restore on start
// and metric bookkeeping around every state change.
type GuardService struct {
	ctrl     *guard.Controller
	store    domrepo.DirectiveStore
	metrics  domrepo.Metrics
	log      *logger.Logger
	interval time.Duration

	mu    sync.Mutex
	after []func(ev guard.Evaluation, now time.Time)

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewGuardService wraps ctrl. store may be nil when persistence is off.
func NewGuardService(ctrl *guard.Controller, store domrepo.DirectiveStore, metrics domrepo.Metrics, log *logger.Logger, interval time.Duration) *GuardService {
	if log == nil {
		log = logger.Nop()
	}
	s := &GuardService{
		ctrl:     ctrl,
		store:    store,
		metrics:  metrics,
		log:      log.With(ctrl.Name()),
		interval: interval,
		stop:     make(chan struct{}),
	}
	ctrl.OnDirective(func(d *models.Directive) {
		metrics.RecordDirective(ctrl.Name(), d.Mode, d.Forced)
	})
	metrics.RecordMode(ctrl.Name(), ctrl.Mode())
	return s
}

var _ Guard = (*GuardService)(nil)

func (s *GuardService) Name() string                  { return s.ctrl.Name() }
func (s *GuardService) Source() string                { return s.ctrl.Source() }
func (s *GuardService) Controller() *guard.Controller { return s.ctrl }

// AfterEvaluate registers fn to run after every evaluation, in order.
func (s *GuardService) AfterEvaluate(fn func(ev guard.Evaluation, now time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.after = append(s.after, fn)
}

// Observe feeds one accepted sample into the smoother.
func (s *GuardService) Observe(metric string, value float64, at time.Time) {
	st := s.ctrl.Observe(metric, value, at)
	s.metrics.RecordSample(s.Name(), metric)
	s.metrics.RecordEWMA(s.Name(), metric, st.EWMA)
}

// Evaluate runs one controller pass and the registered follow-ups.
func (s *GuardService) Evaluate() guard.Evaluation {
	start := time.Now()
	ev := s.ctrl.Evaluate()
	s.metrics.RecordEvaluation(s.Name(), time.Since(start).Seconds())
	s.record(ev.Transition)

	s.mu.Lock()
	after := s.after
	s.mu.Unlock()
	now := s.ctrl.Now()
	for _, fn := range after {
		fn(ev, now)
	}
	return ev
}

func (s *GuardService) record(t guard.Transition) {
	if !t.Changed || t.From == t.To {
		return
	}
	s.metrics.RecordTransition(s.Name(), t.From, t.To)
	s.metrics.RecordMode(s.Name(), t.To)
}

// Restore resumes the last persisted directive, if any is still in force.
func (s *GuardService) Restore(ctx context.Context) {
	if s.store == nil {
		return
	}
	d, err := s.store.Load(ctx, s.ctrl.Source())
	if err != nil {
		s.log.Warn("directive restore failed", logger.Error(err))
		return
	}
	if d == nil {
		return
	}
	if s.ctrl.Restore(d) {
		s.metrics.RecordMode(s.Name(), d.Mode)
	}
}

// Start restores state and begins periodic evaluation.
func (s *GuardService) Start(ctx context.Context) {
	s.Restore(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Evaluate()
			}
		}
	}()
	s.log.Info("guard started", logger.Duration("interval", s.interval), logger.Mode("mode", s.ctrl.Mode()))
}

func (s *GuardService) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *GuardService) Status() models.GuardStatus       { return s.ctrl.Status() }
func (s *GuardService) Snapshot() models.MetricsSnapshot { return s.ctrl.Snapshot() }
func (s *GuardService) LastDirective() *models.Directive { return s.ctrl.LastDirective() }

// Force commits mode at once on operator request.
func (s *GuardService) Force(mode models.ModeLevel, reason string) (*models.Directive, error) {
	from := s.ctrl.Mode()
	d, err := s.ctrl.ForceMode(mode, reason)
	if err != nil {
		return nil, err
	}
	s.record(guard.Transition{From: from, To: mode, Changed: true})
	return d, nil
}

// ApplyOverride asserts a peer or external override.
func (s *GuardService) ApplyOverride(sig models.OverrideSignal) error {
	ev, err := s.ctrl.ApplyOverride(sig)
	if err != nil {
		return err
	}
	s.record(ev.Transition)
	return nil
}

func (s *GuardService) ClearOverride(source string) bool {
	return s.ctrl.ClearOverride(source)
}

// LinkPeer turns directives of from at or above floor into overrides on to.
// A lower directive from the same peer withdraws the override.
func LinkPeer(from *GuardService, to Guard, floor models.ModeLevel, log *logger.Logger) {
	source := "peer:" + from.ctrl.Source()
	from.ctrl.OnDirective(func(d *models.Directive) {
		if d.Mode < floor {
			if to.ClearOverride(source) {
				log.Info("peer override withdrawn", logger.String("peer", from.Name()), logger.String("target", to.Name()))
			}
			return
		}
		sig := models.OverrideSignal{Mode: d.Mode, Source: source, ExpiresAt: d.ExpiresAt}
		if len(d.ReasonCodes) > 0 {
			sig.Reason = d.ReasonCodes[0]
		}
		if err := to.ApplyOverride(sig); err != nil {
			log.Warn("peer override rejected",
				logger.String("peer", from.Name()),
				logger.String("target", to.Name()),
				logger.Error(err),
			)
		}
	})
}
