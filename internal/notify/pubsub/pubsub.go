// Package pubsub publishes stock events to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

// Publisher sends one message and returns the server-assigned id.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// TopicPublisher adapts a *pubsub.Topic to Publisher.
type TopicPublisher struct {
	topic *pubsub.Topic
}

// NewTopicPublisher wraps topic.
func NewTopicPublisher(topic *pubsub.Topic) *TopicPublisher {
	return &TopicPublisher{topic: topic}
}

// Publish blocks until the message is acknowledged by the server.
func (p *TopicPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub topic is not configured")
	}
	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// message is the wire payload.
type message struct {
	Kind    monitor.EventKind `json:"kind"`
	Domain  string            `json:"domain"`
	At      string            `json:"at"`
	Product monitor.Product   `json:"product"`
}

// Notifier publishes each event as a JSON message.
type Notifier struct {
	pub    Publisher
	logger *zap.Logger
}

// New creates a Notifier.
func New(pub Publisher, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{pub: pub, logger: logger.Named("pubsub")}
}

// Notify implements monitor.Notifier.
func (n *Notifier) Notify(ctx context.Context, evt monitor.Event) bool {
	data, err := Encode(evt)
	if err != nil {
		n.logger.Warn("encode event failed", zap.Error(err))
		return false
	}
	attrs := map[string]string{
		"kind":   string(evt.Kind),
		"domain": evt.Domain,
	}
	id, err := n.pub.Publish(ctx, data, attrs)
	if err != nil {
		n.logger.Warn("publish failed", zap.String("kind", string(evt.Kind)), zap.String("domain", evt.Domain), zap.Error(err))
		return false
	}
	n.logger.Debug("event published", zap.String("message_id", id), zap.String("product_id", evt.Product.ID))
	return true
}

// Encode renders evt as the JSON payload carried in the message data.
func Encode(evt monitor.Event) ([]byte, error) {
	data, err := json.Marshal(message{
		Kind:    evt.Kind,
		Domain:  evt.Domain,
		At:      monitor.Timestamp(evt.At),
		Product: evt.Product,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}
