package guard

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"TradeGuard/internal/domain/models"
)

var (
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	ErrInvalidSample   = errors.New("invalid sample")
)

// Failover reason codes.
const (
	ReasonScoreMargin  = "score_margin_exceeded"
	ReasonActiveStale  = "active_stale"
	ReasonActiveFailed = "active_unreachable"
)

// EndpointPolicy parameterizes scoring and failover.
type EndpointPolicy struct {
	RTTCeilingMs    float64
	RateLimitWeight float64
	StaleAfter      time.Duration
	HalfLife        time.Duration
	Margin          float64
	Floor           float64
	MinInterval     time.Duration
}

func DefaultEndpointPolicy() EndpointPolicy {
	return EndpointPolicy{
		RTTCeilingMs:    1000,
		RateLimitWeight: 0.3,
		StaleAfter:      30 * time.Second,
		HalfLife:        30 * time.Second,
		Margin:          0.3,
		Floor:           0.6,
		MinInterval:     2 * time.Minute,
	}
}

func (p EndpointPolicy) Validate() error {
	var errs []error
	if p.RTTCeilingMs <= 0 {
		errs = append(errs, fmt.Errorf("%w: rtt ceiling must be positive", ErrInconsistentThresholds))
	}
	if p.RateLimitWeight < 0 || p.RateLimitWeight > 1 {
		errs = append(errs, fmt.Errorf("%w: rate limit weight %.2f outside [0,1]", ErrInconsistentThresholds, p.RateLimitWeight))
	}
	if p.Margin < 0 || p.Margin >= 1 {
		errs = append(errs, fmt.Errorf("%w: failover margin %.2f outside [0,1)", ErrInconsistentThresholds, p.Margin))
	}
	if p.Floor < 0 || p.Floor > 1 {
		errs = append(errs, fmt.Errorf("%w: failover floor %.2f outside [0,1]", ErrInconsistentThresholds, p.Floor))
	}
	return errors.Join(errs...)
}

type endpointEntry struct {
	score     float64
	updatedAt time.Time
	observed  bool
	pinged    bool
	lastOK    bool
}

// EndpointRegistry scores a fixed set of redundant endpoints and recommends
// moving off the active one when another is clearly healthier.
type EndpointRegistry struct {
	mu       sync.Mutex
	policy   EndpointPolicy
	entries  map[string]*endpointEntry
	order    []string
	active   string
	lastRec  time.Time
	newID    func() string
	recCount int64
}

// NewEndpointRegistry registers ids; active defaults to the first id.
func NewEndpointRegistry(policy EndpointPolicy, ids []string, active string) *EndpointRegistry {
	r := &EndpointRegistry{
		policy:  policy,
		entries: make(map[string]*endpointEntry, len(ids)),
		newID:   uuid.NewString,
	}
	for _, id := range ids {
		if _, dup := r.entries[id]; dup || id == "" {
			continue
		}
		r.entries[id] = &endpointEntry{}
		r.order = append(r.order, id)
	}
	r.active = active
	if _, ok := r.entries[active]; !ok && len(r.order) > 0 {
		r.active = r.order[0]
	}
	return r
}

// Observe replaces the endpoint's score from one ping.
func (r *EndpointRegistry) Observe(id string, ok bool, rttMs float64, at time.Time) error {
	if math.IsNaN(rttMs) || math.IsInf(rttMs, 0) || rttMs < 0 {
		return fmt.Errorf("%w: rtt %.2f for %s", ErrInvalidSample, rttMs, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.entries[id]
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, id)
	}
	score := 0.0
	if ok {
		score = math.Max(0, 1-rttMs/r.policy.RTTCeilingMs)
	}
	e.score = clamp01(score)
	e.updatedAt = at
	e.observed = true
	e.pinged = true
	e.lastOK = ok
	return nil
}

// ObserveRateLimit blends request-weight headroom into the score.
func (r *EndpointRegistry) ObserveRateLimit(id string, used, limit float64, at time.Time) error {
	if limit <= 0 || used < 0 || math.IsNaN(used) || math.IsNaN(limit) {
		return fmt.Errorf("%w: rate limit %.0f/%.0f for %s", ErrInvalidSample, used, limit, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.entries[id]
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, id)
	}
	util := clamp01(used / limit)
	w := r.policy.RateLimitWeight
	e.score = clamp01((1-w)*r.effective(e, at) + w*(1-util))
	e.updatedAt = at
	e.observed = true
	return nil
}

// effective applies half-life decay once an entry is older than StaleAfter.
func (r *EndpointRegistry) effective(e *endpointEntry, now time.Time) float64 {
	if !e.observed {
		return 0
	}
	age := now.Sub(e.updatedAt)
	if age <= r.policy.StaleAfter || r.policy.HalfLife <= 0 {
		return e.score
	}
	halvings := float64(age-r.policy.StaleAfter) / float64(r.policy.HalfLife)
	return clamp01(e.score * math.Pow(0.5, halvings))
}

func (r *EndpointRegistry) stale(e *endpointEntry, now time.Time) bool {
	return !e.observed || now.Sub(e.updatedAt) > r.policy.StaleAfter
}

func (r *EndpointRegistry) Score(id string, now time.Time) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownEndpoint, id)
	}
	return r.effective(e, now), nil
}

// Scores returns the effective score of every endpoint.
func (r *EndpointRegistry) Scores(now time.Time) map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.entries))
	for id, e := range r.entries {
		out[id] = r.effective(e, now)
	}
	return out
}

// Snapshot lists endpoints in registration order.
func (r *EndpointRegistry) Snapshot(now time.Time) []models.EndpointHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EndpointHealth, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		out = append(out, models.EndpointHealth{
			EndpointID:    id,
			Score:         r.effective(e, now),
			LastUpdatedAt: e.updatedAt,
			Active:        id == r.active,
		})
	}
	return out
}

func (r *EndpointRegistry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// ActiveScore is the effective score of the active endpoint.
func (r *EndpointRegistry) ActiveScore(now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[r.active]
	if !ok {
		return 0
	}
	return r.effective(e, now)
}

// SetActive records that traffic now flows through id.
func (r *EndpointRegistry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, id)
	}
	r.active = id
	return nil
}

func (r *EndpointRegistry) Recommendations() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recCount
}

// RecommendFailover suggests the best endpoint once it leads the active one
// by more than Margin and scores above Floor. Recommendations are at least
// MinInterval apart.
func (r *EndpointRegistry) RecommendFailover(now time.Time) *models.FailoverRecommendation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) < 2 {
		return nil
	}
	if !r.lastRec.IsZero() && now.Sub(r.lastRec) < r.policy.MinInterval {
		return nil
	}

	type ranked struct {
		id    string
		score float64
	}
	ranks := make([]ranked, 0, len(r.order))
	for _, id := range r.order {
		ranks = append(ranks, ranked{id: id, score: r.effective(r.entries[id], now)})
	}
	sort.SliceStable(ranks, func(i, j int) bool { return ranks[i].score > ranks[j].score })

	best := ranks[0]
	if best.id == r.active {
		return nil
	}
	active := r.entries[r.active]
	activeScore := r.effective(active, now)
	if best.score-activeScore <= r.policy.Margin || best.score <= r.policy.Floor {
		return nil
	}

	reasons := []string{ReasonScoreMargin}
	if r.stale(active, now) {
		reasons = append(reasons, ReasonActiveStale)
	} else if active.pinged && !active.lastOK {
		reasons = append(reasons, ReasonActiveFailed)
	}

	r.lastRec = now
	r.recCount++
	return &models.FailoverRecommendation{
		ID:           r.newID(),
		FromEndpoint: r.active,
		ToEndpoint:   best.id,
		ScoreFrom:    activeScore,
		ScoreTo:      best.score,
		ReasonCodes:  reasons,
		Timestamp:    now,
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
