package alert

import (
	"context"
	"fmt"
	"net/http"
	"time"

	domrepo "TradeGuard/internal/domain/repository"
	apphttp "TradeGuard/pkg/http"
)

// WebhookAlerter posts alerts as JSON to an HTTP endpoint.
type WebhookAlerter struct {
	url    string
	client *apphttp.Client
}

func NewWebhookAlerter(url string, timeout time.Duration) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: apphttp.NewClient(apphttp.WithTimeout(timeout)),
	}
}

func (w *WebhookAlerter) Send(ctx context.Context, a domrepo.Alert) error {
	payload := map[string]any{
		"key":      a.Key,
		"severity": a.Severity,
		"title":    a.Title,
		"message":  a.Message,
		"fields":   a.Fields,
		"time":     a.At.UTC().Format(time.RFC3339),
	}
	err := w.client.SendAndParse(ctx, &apphttp.RequestOptions{
		Method: http.MethodPost,
		URL:    w.url,
		Body:   payload,
	}, nil)
	if err != nil {
		return fmt.Errorf("send webhook alert: %w", err)
	}
	return nil
}

// publisher is satisfied by pkg/kafka.Producer.
type publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

// KafkaAlerter publishes alerts on the alerts topic.
type KafkaAlerter struct {
	pub   publisher
	topic string
}

func NewKafkaAlerter(pub publisher, topic string) *KafkaAlerter {
	return &KafkaAlerter{pub: pub, topic: topic}
}

func (k *KafkaAlerter) Send(ctx context.Context, a domrepo.Alert) error {
	return k.pub.PublishMessage(ctx, k.topic, a)
}
