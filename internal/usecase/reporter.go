package usecase

import (
	"context"
	"sync"
	"time"

	domrepo "TradeGuard/internal/domain/repository"
	"TradeGuard/pkg/logger"
)

// Reporter publishes a metrics snapshot of every guard on a fixed period
// and mirrors it into Prometheus.
type Reporter struct {
	guards   []Guard
	out      OutputSink
	metrics  domrepo.Metrics
	interval time.Duration
	log      *logger.Logger

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewReporter(guards []Guard, out OutputSink, metrics domrepo.Metrics, interval time.Duration, log *logger.Logger) *Reporter {
	if log == nil {
		log = logger.Nop()
	}
	return &Reporter{
		guards:   guards,
		out:      out,
		metrics:  metrics,
		interval: interval,
		log:      log.With("reporter"),
		stop:     make(chan struct{}),
	}
}

// Report takes and publishes one snapshot per guard.
func (r *Reporter) Report() {
	for _, g := range r.guards {
		snap := g.Snapshot()
		for mode, frac := range snap.ModeFractions {
			r.metrics.RecordModeFraction(snap.Guard, mode, frac)
		}
		for metric, v := range snap.EWMA {
			r.metrics.RecordEWMA(snap.Guard, metric, v)
		}
		for id, score := range snap.EndpointScores {
			r.metrics.RecordEndpointScore(id, score)
		}
		r.out.PublishSnapshot(&snap)
	}
}

func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.Report()
			}
		}
	}()
	r.log.Info("reporter started", logger.Duration("interval", r.interval), logger.Int("guards", len(r.guards)))
}

func (r *Reporter) Stop() {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
}
