//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"TradeGuard/internal/domain/repository"
	"TradeGuard/pkg/config"
	"TradeGuard/pkg/metrics"
	"TradeGuard/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Metrics
		ProvideRegistry,
		ProvideMetrics,
		wire.Bind(new(repository.Metrics), new(*metrics.Recorder)),

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideKafkaConsumer,
		ProvideRedis,
		ProvideCache,
		ProvideClickHouseClient,

		// Repositories
		ProvideDirectiveStore,
		ProvideJournal,
		ProvidePublisher,

		// Services
		ProvideAlerter,
		ProvideDispatcher,
		ProvidePipeline,

		// Use cases
		ProvideGuardDeps,
		ProvideConnectivityGuard,
		ProvideExecutionGuard,
		ProvideGuards,
		ProvideJournalRecorder,
		ProvideMessageHandlers,
		ProvideReporter,
		ProvideProber,

		// Transport
		ProvideAdminHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
