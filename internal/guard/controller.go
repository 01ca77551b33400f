package guard

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"TradeGuard/internal/domain/models"
	"TradeGuard/pkg/logger"
)

var (
	ErrInvalidMode     = errors.New("invalid mode")
	ErrOverrideExpired = errors.New("override already expired")
)

// Clock returns the current time.
type Clock func() time.Time

// Sink receives every emitted directive. It is called under the evaluation
// lock and must not block.
type Sink interface {
	PublishDirective(d *models.Directive)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(d *models.Directive)

func (f SinkFunc) PublishDirective(d *models.Directive) { f(d) }

// Config describes one concrete guard: its identity, predicates and damping.
type Config struct {
	Name           string
	Source         string
	Labels         models.ModeLabels
	Predicates     []Predicate
	Policy         Policy
	Validity       time.Duration
	RefreshBefore  time.Duration
	HistoryHorizon time.Duration
}

// Validate reports every inconsistency at once.
func (c Config) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("guard name is required"))
	}
	if len(c.Predicates) == 0 {
		errs = append(errs, fmt.Errorf("%w: guard %s has no predicates", ErrInconsistentThresholds, c.Name))
	}
	errs = append(errs, ValidatePredicates(c.Predicates), c.Policy.Validate())
	return errors.Join(errs...)
}

func (c Config) withDefaults() Config {
	def := DefaultPolicy()
	if c.Source == "" {
		c.Source = c.Name
	}
	if c.Policy.MinHold == nil {
		c.Policy.MinHold = def.MinHold
	}
	if c.Policy.EscalationBudget == nil {
		c.Policy.EscalationBudget = def.EscalationBudget
	}
	if c.Policy.DecayWindow == 0 {
		c.Policy.DecayWindow = def.DecayWindow
	}
	if c.Policy.RecoveryMultiplier == 0 {
		c.Policy.RecoveryMultiplier = def.RecoveryMultiplier
	}
	if c.Validity == 0 {
		c.Validity = DefaultValidity
	}
	if c.RefreshBefore == 0 {
		c.RefreshBefore = DefaultRefreshBefore
	}
	return c
}

type Option func(*Controller)

func WithClock(clock Clock) Option {
	return func(c *Controller) { c.now = clock }
}

func WithSmoother(s *Smoother) Option {
	return func(c *Controller) { c.smoother = s }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithScale installs the threshold multiplier consulted on every evaluation.
func WithScale(fn func(now time.Time) float64) Option {
	return func(c *Controller) { c.scale = fn }
}

// WithIDGenerator replaces the directive ID source.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) { c.newID = fn }
}

// Evaluation is the result of one pass of the controller.
type Evaluation struct {
	Mode       models.ModeLevel
	Candidate  Classification
	Transition Transition
	Directive  *models.Directive
	Scale      float64
}

// Controller is the generic telemetry-to-mode guard. All state changes go
// through one evaluation lock; smoother updates do not take it.
type Controller struct {
	cfg      Config
	preds    []Predicate
	smoother *Smoother
	hyst     *Hysteresis
	emitter  *Emitter
	timeline *Timeline
	sink     Sink
	now      Clock
	scale    func(time.Time) float64
	newID    func() string
	log      *logger.Logger

	mu        sync.Mutex
	override  *models.OverrideSignal
	reasons   []string
	listeners []func(*models.Directive)

	directives atomic.Int64
}

func NewController(cfg Config, sink Sink, opts ...Option) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:   cfg,
		preds: OrderPredicates(cfg.Predicates),
		sink:  sink,
		now:   time.Now,
		scale: func(time.Time) float64 { return 1 },
		log:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	start := c.now()
	if c.smoother == nil {
		c.smoother = NewSmoother(WithStartTime(start))
	}
	c.hyst = NewHysteresis(cfg.Policy, start)
	c.emitter = NewEmitter(cfg.Source, cfg.Labels, cfg.Validity, cfg.RefreshBefore)
	if c.newID != nil {
		c.emitter.newID = c.newID
	}
	c.timeline = NewTimeline(cfg.HistoryHorizon, start)
	return c
}

func (c *Controller) Name() string          { return c.cfg.Name }
func (c *Controller) Source() string        { return c.cfg.Source }
func (c *Controller) Config() Config        { return c.cfg }
func (c *Controller) Smoother() *Smoother   { return c.smoother }
func (c *Controller) Now() time.Time        { return c.now() }
func (c *Controller) DirectiveCount() int64 { return c.directives.Load() }

// OnDirective registers fn to run after every emitted directive, outside the
// evaluation lock.
func (c *Controller) OnDirective(fn func(*models.Directive)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Observe feeds one sample into the smoother without evaluating.
func (c *Controller) Observe(name string, value float64, at time.Time) SmoothedState {
	return c.smoother.Update(name, value, at)
}

// Evaluate classifies current metrics, steps the hysteresis machine and
// emits a directive when one is due.
func (c *Controller) Evaluate() Evaluation {
	c.mu.Lock()
	ev := c.evaluateLocked(c.now())
	listeners := c.listeners
	c.mu.Unlock()

	c.notify(listeners, ev.Directive)
	return ev
}

func (c *Controller) evaluateLocked(now time.Time) Evaluation {
	scale := c.scale(now)
	if scale <= 0 {
		scale = 1
	}
	cand := Classify(c.smoother, c.preds, now, scale)
	recovery := Classify(c.smoother, c.preds, now, scale*c.cfg.Policy.RecoveryMultiplier)

	expired := false
	if c.override != nil && !c.override.Active(now) {
		expired = true
		c.log.Info("override expired",
			logger.String("guard", c.cfg.Name),
			logger.String("source", c.override.Source),
			logger.Mode("mode", c.override.Mode),
		)
		c.override = nil
	}

	t := c.hyst.Step(Step{Now: now, Candidate: cand, Recovery: recovery, Override: c.override})
	if t.Changed {
		c.commitLocked(t)
	} else if expired {
		c.reasons = heldReasons(c.hyst.Mode(), cand)
	}

	ev := Evaluation{Mode: c.hyst.Mode(), Candidate: cand, Transition: t, Scale: scale}
	if d, ok := c.emitter.MaybeEmit(c.hyst.Mode(), c.reasons, now); ok {
		c.publishLocked(d)
		ev.Directive = d
	}
	return ev
}

// heldReasons rebuilds the reason set for a mode that outlived the override
// which put it there.
func heldReasons(mode models.ModeLevel, cand Classification) []string {
	if mode == models.ModeNormal {
		return nil
	}
	return models.UniqueReasons(append([]string{ReasonOverrideExpired}, cand.Reasons...))
}

func (c *Controller) commitLocked(t Transition) {
	c.reasons = t.Reasons
	c.timeline.Record(t.To, t.At)
	if t.From != t.To {
		c.log.Info("guard mode committed",
			logger.String("guard", c.cfg.Name),
			logger.Mode("from", t.From),
			logger.Mode("to", t.To),
			logger.Strings("reasons", t.Reasons),
		)
	}
}

func (c *Controller) publishLocked(d *models.Directive) {
	c.directives.Add(1)
	if c.sink != nil {
		c.sink.PublishDirective(d)
	}
}

func (c *Controller) notify(listeners []func(*models.Directive), d *models.Directive) {
	if d == nil {
		return
	}
	for _, fn := range listeners {
		fn(d)
	}
}

// ForceMode commits mode immediately and always emits. The forced mode then
// decays like any computed one.
func (c *Controller) ForceMode(mode models.ModeLevel, reason string) (*models.Directive, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, int(mode))
	}

	c.mu.Lock()
	now := c.now()
	var extra []string
	if reason != "" {
		extra = append(extra, reason)
	}
	t := c.hyst.Force(mode, now, extra)
	c.commitLocked(t)
	d := c.emitter.Force(mode, c.reasons, now)
	c.publishLocked(d)
	listeners := c.listeners
	c.mu.Unlock()

	c.log.Warn("guard mode forced",
		logger.String("guard", c.cfg.Name),
		logger.Mode("mode", mode),
		logger.String("reason", reason),
	)
	c.notify(listeners, d)
	return d, nil
}

// ApplyOverride asserts sig until it expires and evaluates right away.
// The latest signal replaces any earlier one.
func (c *Controller) ApplyOverride(sig models.OverrideSignal) (Evaluation, error) {
	if !sig.Mode.Valid() {
		return Evaluation{}, fmt.Errorf("%w: %d", ErrInvalidMode, int(sig.Mode))
	}

	c.mu.Lock()
	now := c.now()
	if !sig.Active(now) {
		c.mu.Unlock()
		return Evaluation{}, ErrOverrideExpired
	}
	c.override = &sig
	ev := c.evaluateLocked(now)
	listeners := c.listeners
	c.mu.Unlock()

	c.notify(listeners, ev.Directive)
	return ev, nil
}

// ClearOverride withdraws the active override if it came from source.
func (c *Controller) ClearOverride(source string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.override == nil || c.override.Source != source {
		return false
	}
	c.override = nil
	return true
}

// Restore resumes from a directive this guard published before a restart.
// Expired or foreign directives are ignored.
func (c *Controller) Restore(d *models.Directive) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if d == nil || d.Source != c.cfg.Source || d.Expired(now) || !d.Mode.Valid() {
		return false
	}
	c.hyst.Restore(d.Mode, d.EmittedAt)
	c.emitter.Restore(d)
	c.reasons = models.UniqueReasons(d.ReasonCodes)
	c.timeline.Record(d.Mode, now)
	c.log.Info("guard state restored",
		logger.String("guard", c.cfg.Name),
		logger.Mode("mode", d.Mode),
		logger.String("directive_id", d.ID),
	)
	return true
}

func (c *Controller) Mode() models.ModeLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hyst.Mode()
}

func (c *Controller) LastDirective() *models.Directive {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emitter.Last()
}

// Status answers the admin status query.
func (c *Controller) Status() models.GuardStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	mode := c.hyst.Mode()
	st := models.GuardStatus{
		Guard:           c.cfg.Name,
		Mode:            mode,
		Label:           c.cfg.Labels.Label(mode),
		ModeAgeSeconds:  now.Sub(c.hyst.EnteredAt()).Seconds(),
		SmoothedMetrics: c.smoother.Snapshot(),
		ReasonCodes:     append([]string(nil), c.reasons...),
		LastDirective:   c.emitter.Last(),
	}
	if c.override.Active(now) {
		ov := *c.override
		st.Override = &ov
	}
	return st
}

// Snapshot is the periodic report of smoothed values and mode history.
func (c *Controller) Snapshot() models.MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	return models.MetricsSnapshot{
		Guard:           c.cfg.Name,
		Mode:            c.hyst.Mode(),
		EWMA:            c.smoother.Snapshot(),
		ModeFractions:   c.timeline.Fractions(now),
		DirectivesTotal: c.directives.Load(),
		Timestamp:       now,
	}
}
