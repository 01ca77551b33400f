package repository

import (
	"context"

	"TradeGuard/internal/domain/models"
	"TradeGuard/internal/domain/repository"
)

// Topics names the outbound guard topics.
type Topics struct {
	Directive string
	Metrics   string
	Failover  string
	Advice    string
}

// producer is the slice of pkg/kafka.Producer the publisher needs.
type producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaPublisher implements Publisher for Kafka. Messages are keyed by
// guard (or endpoint) so one partition carries one guard's history in order.
type KafkaPublisher struct {
	producer producer
	topics   Topics
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(p producer, topics Topics) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topics: topics}
}

var _ repository.Publisher = (*KafkaPublisher)(nil)

func (p *KafkaPublisher) PublishDirective(ctx context.Context, d *models.Directive) error {
	return p.producer.Publish(ctx, p.topics.Directive, []byte(d.Source), d)
}

func (p *KafkaPublisher) PublishSnapshot(ctx context.Context, s *models.MetricsSnapshot) error {
	return p.producer.Publish(ctx, p.topics.Metrics, []byte(s.Guard), s)
}

func (p *KafkaPublisher) PublishFailover(ctx context.Context, r *models.FailoverRecommendation) error {
	return p.producer.Publish(ctx, p.topics.Failover, []byte(r.FromEndpoint), r)
}

func (p *KafkaPublisher) PublishAdvice(ctx context.Context, a *models.Advice) error {
	return p.producer.Publish(ctx, p.topics.Advice, []byte(a.Source), a)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
