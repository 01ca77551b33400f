package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"TradeGuard/internal/domain/models"
	"TradeGuard/internal/domain/repository"
	"TradeGuard/internal/handler/api"
	mid "TradeGuard/internal/middleware"
	internalrepo "TradeGuard/internal/repository"
	"TradeGuard/internal/service/alert"
	"TradeGuard/internal/service/dispatch"
	"TradeGuard/internal/service/probe"
	"TradeGuard/internal/service/ratelimit"
	"TradeGuard/internal/usecase"
	"TradeGuard/pkg/cache"
	pkgch "TradeGuard/pkg/clickhouse"
	"TradeGuard/pkg/config"
	xhttp "TradeGuard/pkg/http"
	pkgkafka "TradeGuard/pkg/kafka"
	applogger "TradeGuard/pkg/logger"
	"TradeGuard/pkg/metrics"
	"TradeGuard/pkg/server"
)

// ProvideRegistry creates the Prometheus registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) *metrics.Recorder {
	return metrics.NewWithRegistry(reg)
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, func(), error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithRegisterer(reg),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the service logger. Warnings and errors are also
// aggregated and shipped to the logs topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.ServiceName,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Kafka.Topics.Logs != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.Topics.Logs,
			Publisher:      producer,
		})
	}
	return l, l.RemoveCollector, nil
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
func ProvideKafkaConsumer(cfg *config.Config, log *applogger.Logger, reg *prometheus.Registry) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(cfg.Kafka.Consumer.StartOffset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerLogger(log),
		pkgkafka.WithConsumerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TracingHook(), pkgkafka.LoggingHook(log)))
	return consumer, nil
}

// ProvideRedis connects to Redis, or returns nil when it is disabled.
func ProvideRedis(cfg *config.Config) (*cache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() {}, nil
}

// ProvideCache layers a small in-process cache over Redis. Without Redis
// the directive store lives in memory and does not survive a restart.
func ProvideCache(rc *cache.RedisCache, cfg *config.Config) (cache.Service, func()) {
	var svc cache.Service
	if rc != nil {
		svc = cache.NewLayeredCache(rc, cache.WithLayeredMemoryTTL(cfg.Redis.L1TTL))
	} else {
		svc = cache.NewMemoryCache()
	}
	return svc, func() { _ = svc.Close() }
}

// ProvideDirectiveStore creates the last-directive store.
func ProvideDirectiveStore(c cache.Service) repository.DirectiveStore {
	return internalrepo.NewCacheDirectiveStore(c)
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when the
// journal is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(4, 2),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(true, false),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideJournal creates the directive journal and its schema.
func ProvideJournal(ch *pkgch.Client, cfg *config.Config) (repository.Journal, error) {
	if ch == nil {
		return nil, nil
	}
	j := internalrepo.NewClickHouseJournal(ch, cfg.ClickHouse.Retention)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := j.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return j, nil
}

// ProvideJournalRecorder batches journal writes; nil without a journal.
func ProvideJournalRecorder(j repository.Journal, cfg *config.Config, log *applogger.Logger) *usecase.JournalRecorder {
	if j == nil {
		return nil
	}
	return usecase.NewJournalRecorder(j, cfg.ClickHouse.BatchSize, cfg.ClickHouse.FlushEvery, log)
}

// ProvidePublisher creates the Kafka publisher for guard outputs.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	t := cfg.Kafka.Topics
	return internalrepo.NewKafkaPublisher(producer, internalrepo.Topics{
		Directive: t.Directive,
		Metrics:   t.Metrics,
		Failover:  t.Failover,
		Advice:    t.Advice,
	})
}

// ProvideAlerter fans alerts out to the log, the alerts topic and the
// optional webhook.
func ProvideAlerter(cfg *config.Config, producer *pkgkafka.Producer, log *applogger.Logger) repository.Alerter {
	channels := []repository.Alerter{alert.NewLogAlerter(log)}
	if cfg.Kafka.Topics.Alerts != "" {
		channels = append(channels, alert.NewKafkaAlerter(producer, cfg.Kafka.Topics.Alerts))
	}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.Alert.WebhookURL, cfg.Alert.WebhookTimeout))
	}
	return alert.NewMultiAlerter(cfg.Alert.Cooldown, log, channels...)
}

// ProvideDispatcher creates the non-blocking outbound dispatcher.
func ProvideDispatcher(
	pub repository.Publisher,
	m repository.Metrics,
	store repository.DirectiveStore,
	alerter repository.Alerter,
	cfg *config.Config,
	log *applogger.Logger,
) *dispatch.Dispatcher {
	d := cfg.Dispatch
	return dispatch.New(pub, m, dispatch.Config{
		BufferSize:       d.BufferSize,
		PublishTimeout:   d.PublishTimeout,
		BreakerFailures:  d.BreakerFailures,
		BreakerOpenFor:   d.BreakerOpenFor,
		BreakerHalfOpenN: d.BreakerHalfOpenN,
	},
		dispatch.WithDirectiveStore(store),
		dispatch.WithAlerter(alerter),
		dispatch.WithLogger(log),
	)
}

// ProvidePipeline creates the telemetry admission pipeline.
func ProvidePipeline(m repository.Metrics, cfg *config.Config, log *applogger.Logger) *mid.TelemetryPipeline {
	return mid.NewTelemetryPipeline(m, log, mid.WithMaxAge(cfg.Guards.MaxSampleAge))
}

// ProvideGuardDeps collects what both guards share.
func ProvideGuardDeps(
	cfg *config.Config,
	disp *dispatch.Dispatcher,
	store repository.DirectiveStore,
	m repository.Metrics,
	pipe *mid.TelemetryPipeline,
	alerter repository.Alerter,
	log *applogger.Logger,
) usecase.GuardDeps {
	return usecase.GuardDeps{
		Out:      disp,
		Store:    store,
		Metrics:  m,
		Pipe:     pipe,
		Alerter:  alerter,
		Log:      log,
		Interval: cfg.Guards.EvaluateInterval,
		Horizon:  cfg.Guards.HistoryHorizon,
	}
}

// ProvideConnectivityGuard builds the connectivity guard, or nil when it
// is disabled.
func ProvideConnectivityGuard(deps usecase.GuardDeps, cfg *config.Config) *usecase.ConnectivityGuard {
	if !cfg.Guards.Connectivity.Enabled {
		return nil
	}
	return usecase.BuildConnectivityGuard(context.Background(), deps, cfg)
}

// ProvideExecutionGuard builds the execution guard, or nil when it is
// disabled.
func ProvideExecutionGuard(deps usecase.GuardDeps, cfg *config.Config) *usecase.ExecutionGuard {
	if !cfg.Guards.Execution.Enabled {
		return nil
	}
	return usecase.BuildExecutionGuard(context.Background(), deps, cfg)
}

// ProvideGuards lists the enabled guards and links connectivity into
// execution as a peer override.
func ProvideGuards(cfg *config.Config, conn *usecase.ConnectivityGuard, exec *usecase.ExecutionGuard, log *applogger.Logger) ([]usecase.Guard, error) {
	var guards []usecase.Guard
	if conn != nil {
		guards = append(guards, conn)
	}
	if exec != nil {
		guards = append(guards, exec)
	}
	if conn != nil && exec != nil && cfg.Peer.Enabled {
		floor, err := models.ParseModeLevel(cfg.Peer.MinMode)
		if err != nil {
			return nil, fmt.Errorf("peer.min_mode: %w", err)
		}
		usecase.LinkPeer(conn.GuardService, exec, floor, log)
	}
	return guards, nil
}

// ProvideMessageHandlers maps every inbound topic to its handler.
func ProvideMessageHandlers(
	cfg *config.Config,
	conn *usecase.ConnectivityGuard,
	exec *usecase.ExecutionGuard,
	guards []usecase.Guard,
	pipe *mid.TelemetryPipeline,
	rec *usecase.JournalRecorder,
) []pkgkafka.MessageHandler {
	t := cfg.Kafka.Topics
	var hs []pkgkafka.MessageHandler
	if conn != nil {
		hs = append(hs,
			usecase.NewPingHandler(t.Ping, conn, pipe),
			usecase.NewThroughputHandler(t.MarketData, models.StreamMarketData, conn, pipe),
			usecase.NewThroughputHandler(t.OrderStream, models.StreamOrderStream, conn, pipe),
			usecase.NewRateLimitHandler(t.RateLimit, conn, pipe),
		)
	}
	if exec != nil {
		hs = append(hs,
			usecase.NewJourneyHandler(t.OrderJourney, exec, pipe),
			usecase.NewContextHandler(t.Context, exec, pipe),
		)
	}
	if len(guards) > 0 {
		def := usecase.ExecutionGuardName
		if exec == nil {
			def = guards[0].Name()
		}
		hs = append(hs, usecase.NewOverrideHandler(t.Override, guards, def, pipe))
	}
	if rec != nil {
		hs = append(hs,
			usecase.NewDirectiveJournalHandler(t.Directive, rec, guards...),
			usecase.NewFailoverJournalHandler(t.Failover, rec),
		)
	}
	return hs
}

// ProvideReporter creates the periodic snapshot reporter.
func ProvideReporter(cfg *config.Config, guards []usecase.Guard, disp *dispatch.Dispatcher, m repository.Metrics, log *applogger.Logger) *usecase.Reporter {
	return usecase.NewReporter(guards, disp, m, cfg.Guards.ReportInterval, log)
}

// ProvideProber creates the WebSocket prober, or nil when probing is off.
func ProvideProber(cfg *config.Config, conn *usecase.ConnectivityGuard, log *applogger.Logger) *probe.Prober {
	if !cfg.Probe.Enabled || conn == nil || len(cfg.Probe.Targets) == 0 {
		return nil
	}
	targets := make([]probe.Target, 0, len(cfg.Probe.Targets))
	for _, t := range cfg.Probe.Targets {
		targets = append(targets, probe.Target{ID: t.ID, URL: t.URL})
	}
	return probe.New(targets, cfg.Probe.Interval, cfg.Probe.Timeout, conn, log)
}

// ProvideAdminHandler creates the operator API.
func ProvideAdminHandler(
	cfg *config.Config,
	log *applogger.Logger,
	guards []usecase.Guard,
	conn *usecase.ConnectivityGuard,
	journal repository.Journal,
	rc *cache.RedisCache,
	disp *dispatch.Dispatcher,
) *api.GuardsHandler {
	opts := []api.GuardsOption{
		api.WithLimiter(ratelimit.New(cfg.Server.RateLimit, cfg.Server.RateBurst)),
		api.WithHealthCheck("publisher", func(context.Context) error {
			if s := disp.BreakerState(); s == "open" {
				return fmt.Errorf("publish circuit %s", s)
			}
			return nil
		}),
	}
	if conn != nil {
		opts = append(opts, api.WithEndpoints(conn))
	}
	if journal != nil {
		opts = append(opts, api.WithJournal(journal), api.WithHealthCheck("clickhouse", journal.Health))
	}
	if rc != nil {
		opts = append(opts, api.WithHealthCheck("redis", rc.Health))
	}
	return api.NewGuardsHandler(log, guards, opts...)
}

// ProvideHTTPServer creates the admin HTTP server.
func ProvideHTTPServer(cfg *config.Config, log *applogger.Logger, reg *prometheus.Registry, admin *api.GuardsHandler) *xhttp.Server {
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.Handler{admin},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(log),
		xhttp.WithMetrics(path, reg, reg),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	disp *dispatch.Dispatcher,
	conn *usecase.ConnectivityGuard,
	exec *usecase.ExecutionGuard,
	reporter *usecase.Reporter,
	prober *probe.Prober,
	rec *usecase.JournalRecorder,
	srv *xhttp.Server,
) *server.App {
	var services []server.Service
	if conn != nil {
		services = append(services, conn.GuardService)
	}
	if exec != nil {
		services = append(services, exec.GuardService)
	}
	services = append(services, reporter)
	if prober != nil {
		services = append(services, prober)
	}
	return server.New(server.Deps{
		Config:     cfg,
		Logger:     log,
		Consumer:   consumer,
		Handlers:   handlers,
		Dispatcher: disp,
		Services:   services,
		Journal:    rec,
		HTTP:       srv,
	})
}
