package di

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeGuard/internal/domain/models"
	"TradeGuard/internal/service/alert"
	"TradeGuard/internal/usecase"
	"TradeGuard/pkg/config"
	pkgkafka "TradeGuard/pkg/kafka"
	"TradeGuard/pkg/logger"
)

type nopPublisher struct{}

func (nopPublisher) PublishDirective(context.Context, *models.Directive) error             { return nil }
func (nopPublisher) PublishSnapshot(context.Context, *models.MetricsSnapshot) error        { return nil }
func (nopPublisher) PublishFailover(context.Context, *models.FailoverRecommendation) error { return nil }
func (nopPublisher) PublishAdvice(context.Context, *models.Advice) error                   { return nil }
func (nopPublisher) Close() error                                                          { return nil }

const baseYAML = `
kafka:
  brokers: ["localhost:9092"]
endpoints:
  ids: [ep-a, ep-b]
`

func build(t *testing.T, yml string) (*config.Config, *usecase.ConnectivityGuard, *usecase.ExecutionGuard, usecase.GuardDeps) {
	t.Helper()
	cfg, err := config.Parse([]byte(yml))
	require.NoError(t, err)

	log := logger.Nop()
	rec := ProvideMetrics(prometheus.NewRegistry())
	disp := ProvideDispatcher(nopPublisher{}, rec, nil, alert.NewLogAlerter(log), cfg, log)
	pipe := ProvidePipeline(rec, cfg, log)
	deps := ProvideGuardDeps(cfg, disp, nil, rec, pipe, alert.NewLogAlerter(log), log)
	return cfg, ProvideConnectivityGuard(deps, cfg), ProvideExecutionGuard(deps, cfg), deps
}

func topics(hs []pkgkafka.MessageHandler) []string {
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.Topic())
	}
	return out
}

func TestProvideGuardsLinksPeer(t *testing.T) {
	cfg, conn, exec, _ := build(t, baseYAML)
	require.NotNil(t, conn)
	require.NotNil(t, exec)

	guards, err := ProvideGuards(cfg, conn, exec, logger.Nop())
	require.NoError(t, err)
	require.Len(t, guards, 2)
	assert.Equal(t, usecase.ConnectivityGuardName, guards[0].Name())
	assert.Equal(t, usecase.ExecutionGuardName, guards[1].Name())

	_, err = conn.Force(models.ModeHaltEntry, "drill")
	require.NoError(t, err)
	st := exec.Status()
	require.NotNil(t, st.Override)
	assert.Equal(t, models.ModeHaltEntry, st.Override.Mode)
	assert.Equal(t, "peer:"+usecase.ConnectivityGuardName, st.Override.Source)
}

func TestProvideGuardsSkipsDisabled(t *testing.T) {
	cfg, conn, exec, _ := build(t, baseYAML+`
guards:
  connectivity:
    enabled: false
`)
	assert.Nil(t, conn)
	require.NotNil(t, exec)

	guards, err := ProvideGuards(cfg, conn, exec, logger.Nop())
	require.NoError(t, err)
	require.Len(t, guards, 1)

	hs := ProvideMessageHandlers(cfg, conn, exec, guards, nil, nil)
	assert.ElementsMatch(t, []string{
		cfg.Kafka.Topics.OrderJourney,
		cfg.Kafka.Topics.Context,
		cfg.Kafka.Topics.Override,
	}, topics(hs))
}

func TestProvideMessageHandlersIncludesJournal(t *testing.T) {
	cfg, conn, exec, deps := build(t, baseYAML)
	guards, err := ProvideGuards(cfg, conn, exec, logger.Nop())
	require.NoError(t, err)

	rec := usecase.NewJournalRecorder(nil, 10, 0, deps.Log)
	got := topics(ProvideMessageHandlers(cfg, conn, exec, guards, deps.Pipe, rec))
	assert.Len(t, got, 9)
	assert.Contains(t, got, cfg.Kafka.Topics.Directive)
	assert.Contains(t, got, cfg.Kafka.Topics.Failover)
	assert.Contains(t, got, cfg.Kafka.Topics.Ping)
}

func TestProvideProberNeedsTargets(t *testing.T) {
	cfg, conn, _, _ := build(t, baseYAML+`
probe:
  enabled: true
`)
	assert.Nil(t, ProvideProber(cfg, conn, logger.Nop()))
}

func TestProvideAppSkipsNilServices(t *testing.T) {
	cfg, conn, exec, deps := build(t, baseYAML)
	guards, err := ProvideGuards(cfg, conn, exec, logger.Nop())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	disp := ProvideDispatcher(nopPublisher{}, deps.Metrics, nil, alert.NewLogAlerter(deps.Log), cfg, deps.Log)
	reporter := ProvideReporter(cfg, guards, disp, deps.Metrics, deps.Log)
	admin := ProvideAdminHandler(cfg, deps.Log, guards, conn, nil, nil, disp)
	srv := ProvideHTTPServer(cfg, deps.Log, reg, admin)

	app := ProvideApp(cfg, deps.Log, nil, nil, disp, conn, exec, reporter, nil, nil, srv)
	require.NotNil(t, app)
}
