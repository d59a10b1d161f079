// Package jobs holds the Pub/Sub plumbing behind the order notifier.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/warungkita/api/internal/services"
)

// PubSubOrderEventPublisher emits order lifecycle events on a Pub/Sub topic.
// The JSON body carries the full event; routing fields are duplicated as
// message attributes so subscribers can filter without decoding.
type PubSubOrderEventPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubOrderEventPublisher binds a publisher to an existing topic handle.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	return &PubSubOrderEventPublisher{topic: topic}, nil
}

// PublishOrderEvent publishes one event and blocks until the server acks it,
// returning the server-assigned message ID.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEventMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order event publisher: not initialised")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string, 5)
	for key, value := range map[string]string{
		"eventType":   event.Type,
		"orderId":     event.OrderID,
		"orderNumber": event.OrderNumber,
		"status":      event.Status,
		"source":      event.Source,
	} {
		if v := strings.TrimSpace(value); v != "" {
			attrs[key] = v
		}
	}

	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: body, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}
