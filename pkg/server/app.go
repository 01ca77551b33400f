package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TradeGuard/internal/service/dispatch"
	"TradeGuard/internal/usecase"
	"TradeGuard/pkg/config"
	xhttp "TradeGuard/pkg/http"
	pkgkafka "TradeGuard/pkg/kafka"
	applogger "TradeGuard/pkg/logger"
)

// Service is a background component with a start/stop lifecycle.
type Service interface {
	Start(ctx context.Context)
	Stop()
}

// Deps is everything the App drives. Nil members are skipped.
type Deps struct {
	Config     *config.Config
	Logger     *applogger.Logger
	Consumer   *pkgkafka.Consumer
	Handlers   []pkgkafka.MessageHandler
	Dispatcher *dispatch.Dispatcher
	Services   []Service
	Journal    *usecase.JournalRecorder
	HTTP       *xhttp.Server
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	consumer   *pkgkafka.Consumer
	handlers   []pkgkafka.MessageHandler
	dispatcher *dispatch.Dispatcher
	services   []Service
	journal    *usecase.JournalRecorder
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(d Deps) *App {
	log := d.Logger
	if log == nil {
		log = applogger.Nop()
	}
	return &App{
		cfg:        d.Config,
		log:        log.With("app"),
		consumer:   d.Consumer,
		handlers:   d.Handlers,
		dispatcher: d.Dispatcher,
		services:   d.Services,
		journal:    d.Journal,
		httpServer: d.HTTP,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.Shutdown(context.Background())
}

// Start brings components up so that every producer has its consumer
// running first: dispatcher, guards and loops, journal, Kafka, HTTP.
func (a *App) Start(ctx context.Context) error {
	if a.dispatcher != nil {
		a.dispatcher.Start()
	}
	for _, s := range a.services {
		s.Start(ctx)
	}
	if a.journal != nil {
		a.journal.Start(ctx)
	}

	if a.consumer != nil && len(a.handlers) > 0 {
		topics := make([]string, 0, len(a.handlers))
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
			topics = append(topics, h.Topic())
		}
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer start error", applogger.Error(err))
			return err
		}
		a.log.Info("kafka consumer started", applogger.Strings("topics", topics))
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.log.Error("http server start error", applogger.Error(err))
			return err
		}
	}
	a.log.Info("tradeguard started", applogger.Int("services", len(a.services)))
	return nil
}

// Shutdown stops components in reverse start order. The dispatcher goes
// last so directives emitted while stopping are still published.
func (a *App) Shutdown(ctx context.Context) error {
	timeout := 15 * time.Second
	if a.cfg != nil && a.cfg.Server.ShutdownTimeout > 0 {
		timeout = a.cfg.Server.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.log.Info("shutting down...")

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	for i := len(a.services) - 1; i >= 0; i-- {
		a.services[i].Stop()
	}
	if a.journal != nil {
		if err := a.journal.Stop(ctx); err != nil {
			a.log.Warn("journal final flush failed", applogger.Error(err))
		}
	}
	if a.dispatcher != nil {
		if err := a.dispatcher.Stop(ctx); err != nil {
			a.log.Warn("dispatcher drain incomplete", applogger.Error(err), applogger.Int64("dropped", a.dispatcher.Dropped()))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
