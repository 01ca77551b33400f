package guard

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	DefaultAlpha          = 0.3
	DefaultWindowCapacity = 512
)

// SmoothedState is a copy of one metric's smoothing state.
type SmoothedState struct {
	Name   string
	EWMA   float64
	Alpha  float64
	Count  int
	LastAt time.Time
}

type series struct {
	mu     sync.Mutex
	ewma   float64
	alpha  float64
	ring   []float64
	head   int
	size   int
	count  int
	lastAt time.Time
}

func (s *series) push(v float64) {
	if len(s.ring) == 0 {
		return
	}
	s.ring[s.head] = v
	s.head = (s.head + 1) % len(s.ring)
	if s.size < len(s.ring) {
		s.size++
	}
}

func (s *series) values() []float64 {
	out := make([]float64, s.size)
	start := (s.head - s.size + len(s.ring)) % len(s.ring)
	for i := 0; i < s.size; i++ {
		out[i] = s.ring[(start+i)%len(s.ring)]
	}
	return out
}

// Smoother tracks an EWMA and a bounded window of raw values per metric name.
// Updates to different metrics never contend; updates to the same metric are
// serialized.
type Smoother struct {
	mu           sync.RWMutex
	series       map[string]*series
	alphas       map[string]float64
	defaultAlpha float64
	capacity     int
	createdAt    time.Time
}

// SmootherOption configures a Smoother.
type SmootherOption func(*Smoother)

// WithAlpha sets the smoothing factor for one metric.
func WithAlpha(name string, alpha float64) SmootherOption {
	return func(s *Smoother) {
		if alpha > 0 && alpha <= 1 {
			s.alphas[name] = alpha
		}
	}
}

// WithDefaultAlpha sets the smoothing factor for metrics without their own.
func WithDefaultAlpha(alpha float64) SmootherOption {
	return func(s *Smoother) {
		if alpha > 0 && alpha <= 1 {
			s.defaultAlpha = alpha
		}
	}
}

// WithWindowCapacity bounds the raw-value window kept per metric.
func WithWindowCapacity(n int) SmootherOption {
	return func(s *Smoother) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithStartTime sets the reference used by Silence for metrics never seen.
func WithStartTime(t time.Time) SmootherOption {
	return func(s *Smoother) {
		s.createdAt = t
	}
}

func NewSmoother(opts ...SmootherOption) *Smoother {
	s := &Smoother{
		series:       make(map[string]*series),
		alphas:       make(map[string]float64),
		defaultAlpha: DefaultAlpha,
		capacity:     DefaultWindowCapacity,
		createdAt:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Smoother) get(name string) *series {
	s.mu.RLock()
	sr, ok := s.series[name]
	s.mu.RUnlock()
	if ok {
		return sr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok = s.series[name]; ok {
		return sr
	}
	alpha, ok := s.alphas[name]
	if !ok {
		alpha = s.defaultAlpha
	}
	sr = &series{alpha: alpha, ring: make([]float64, s.capacity)}
	s.series[name] = sr
	return sr
}

func (s *Smoother) lookup(name string) (*series, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sr, ok := s.series[name]
	return sr, ok
}

// Update folds value into the metric's EWMA and window. Unknown metrics start
// from an EWMA of zero.
func (s *Smoother) Update(name string, value float64, at time.Time) SmoothedState {
	sr := s.get(name)

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.ewma = sr.alpha*value + (1-sr.alpha)*sr.ewma
	sr.push(value)
	sr.count++
	if at.After(sr.lastAt) {
		sr.lastAt = at
	}
	return SmoothedState{Name: name, EWMA: sr.ewma, Alpha: sr.alpha, Count: sr.count, LastAt: sr.lastAt}
}

// State returns a copy of the metric's state; ok is false for unseen metrics.
func (s *Smoother) State(name string) (SmoothedState, bool) {
	sr, ok := s.lookup(name)
	if !ok {
		return SmoothedState{Name: name}, false
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return SmoothedState{Name: name, EWMA: sr.ewma, Alpha: sr.alpha, Count: sr.count, LastAt: sr.lastAt}, true
}

func (s *Smoother) EWMA(name string) float64 {
	st, _ := s.State(name)
	return st.EWMA
}

func (s *Smoother) Count(name string) int {
	st, _ := s.State(name)
	return st.Count
}

// Percentile returns the p-th percentile (0..100) of the window using linear
// interpolation between closest ranks. An empty window yields 0.
func (s *Smoother) Percentile(name string, p float64) float64 {
	sr, ok := s.lookup(name)
	if !ok {
		return 0
	}
	sr.mu.Lock()
	vals := sr.values()
	sr.mu.Unlock()
	return percentile(vals, p)
}

func (s *Smoother) Max(name string) float64 {
	sr, ok := s.lookup(name)
	if !ok {
		return 0
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.size == 0 {
		return 0
	}
	m := math.Inf(-1)
	for _, v := range sr.values() {
		if v > m {
			m = v
		}
	}
	return m
}

// Silence is the time since the metric was last updated, or since the
// smoother started when it never was.
func (s *Smoother) Silence(name string, now time.Time) time.Duration {
	last := s.createdAt
	if st, ok := s.State(name); ok && !st.LastAt.IsZero() {
		last = st.LastAt
	}
	if d := now.Sub(last); d > 0 {
		return d
	}
	return 0
}

// Snapshot returns the current EWMA of every tracked metric.
func (s *Smoother) Snapshot() map[string]float64 {
	s.mu.RLock()
	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	s.mu.RUnlock()

	out := make(map[string]float64, len(names))
	for _, name := range names {
		out[name] = s.EWMA(name)
	}
	return out
}

func percentile(vals []float64, p float64) float64 {
	n := len(vals)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[n-1]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
