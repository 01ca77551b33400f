package probe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"TradeGuard/internal/domain/models"
	"TradeGuard/pkg/logger"
)

var ErrPongTimeout = errors.New("pong timeout")

// Target is one endpoint to probe.
type Target struct {
	ID  string
	URL string
}

// Observer receives every probe result.
type Observer interface {
	ObservePing(ctx context.Context, r models.PingResult)
}

// Prober keeps one WebSocket per target and measures control-frame ping
// round trips on it. A failed probe drops the connection; the next tick
// dials again.
type Prober struct {
	targets  []Target
	interval time.Duration
	timeout  time.Duration
	dialer   *websocket.Dialer
	observer Observer
	log      *logger.Logger
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(targets []Target, interval, timeout time.Duration, observer Observer, log *logger.Logger) *Prober {
	if log == nil {
		log = logger.Nop()
	}
	return &Prober{
		targets:  targets,
		interval: interval,
		timeout:  timeout,
		dialer:   &websocket.Dialer{HandshakeTimeout: timeout},
		observer: observer,
		log:      log.With("prober"),
		now:      time.Now,
	}
}

func (p *Prober) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for _, t := range p.targets {
		p.wg.Add(1)
		go p.loop(ctx, t)
	}
	p.log.Info("prober started", logger.Int("targets", len(p.targets)), logger.Duration("interval", p.interval))
}

func (p *Prober) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Prober) loop(ctx context.Context, t Target) {
	defer p.wg.Done()
	s := &session{target: t}
	defer s.close()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.observer.ObservePing(ctx, p.probe(ctx, s))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type session struct {
	target Target
	conn   *websocket.Conn
	pongs  chan string
	dead   chan struct{}
	seq    int
}

func (s *session) close() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (p *Prober) connect(ctx context.Context, s *session) error {
	dctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	conn, _, err := p.dialer.DialContext(dctx, s.target.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.target.ID, err)
	}
	pongs := make(chan string, 4)
	dead := make(chan struct{})
	conn.SetPongHandler(func(data string) error {
		select {
		case pongs <- data:
		default:
		}
		return nil
	})
	// pong handlers only run while reading
	go func() {
		defer close(dead)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	s.conn, s.pongs, s.dead = conn, pongs, dead
	p.log.Debug("probe connected", logger.String("endpoint", s.target.ID))
	return nil
}

// probe sends one ping and waits for its pong.
func (p *Prober) probe(ctx context.Context, s *session) models.PingResult {
	res := models.PingResult{Endpoint: s.target.ID, Transport: "ws", Timestamp: p.now()}

	rtt, err := p.roundTrip(ctx, s)
	if err != nil {
		s.close()
		p.log.Warn("probe failed", logger.String("endpoint", s.target.ID), logger.Error(err))
		return res
	}
	res.OK = true
	res.RTTMs = float64(rtt.Microseconds()) / 1000
	return res
}

func (p *Prober) roundTrip(ctx context.Context, s *session) (time.Duration, error) {
	if s.conn == nil {
		if err := p.connect(ctx, s); err != nil {
			return 0, err
		}
	}
	s.seq++
	nonce := strconv.Itoa(s.seq)
	start := time.Now()
	if err := s.conn.WriteControl(websocket.PingMessage, []byte(nonce), start.Add(p.timeout)); err != nil {
		return 0, fmt.Errorf("write ping: %w", err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	for {
		select {
		case got := <-s.pongs:
			if got == nonce {
				return time.Since(start), nil
			}
		case <-s.dead:
			return 0, errors.New("connection closed")
		case <-timer.C:
			return 0, ErrPongTimeout
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
