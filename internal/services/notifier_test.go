package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/warungkita/api/internal/domain"
)

type stubEventPublisher struct {
	published []OrderEventMessage
	err       error
}

func (s *stubEventPublisher) PublishOrderEvent(_ context.Context, msg OrderEventMessage) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.published = append(s.published, msg)
	return "msg-1", nil
}

func TestEventNotifierPublishesCheckout(t *testing.T) {
	publisher := &stubEventPublisher{}
	now := time.Date(2025, 5, 6, 10, 0, 0, 0, time.UTC)

	notifier, err := NewEventNotifier(EventNotifierDeps{
		Publisher: publisher,
		Clock:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewEventNotifier: %v", err)
	}

	notifier.NotifyCheckout(context.Background(), Order{
		ID:          "ord_1",
		OrderNumber: "WK-20250506-0001",
		Status:      domain.OrderStatusPending,
	})

	if len(publisher.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(publisher.published))
	}
	msg := publisher.published[0]
	if msg.Type != "order.checkout.completed" {
		t.Fatalf("unexpected type %q", msg.Type)
	}
	if msg.OrderID != "ord_1" || msg.OrderNumber != "WK-20250506-0001" {
		t.Fatalf("unexpected payload %#v", msg)
	}
	if !msg.OccurredAt.Equal(now) {
		t.Fatalf("unexpected timestamp %v", msg.OccurredAt)
	}
}

func TestEventNotifierSwallowsPublishFailures(t *testing.T) {
	publisher := &stubEventPublisher{err: errors.New("pubsub down")}
	logged := 0

	notifier, err := NewEventNotifier(EventNotifierDeps{
		Publisher: publisher,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			if event == "notify.publish_failed" {
				logged++
			}
		},
	})
	if err != nil {
		t.Fatalf("NewEventNotifier: %v", err)
	}

	// Must not panic or surface the error.
	notifier.NotifyPaymentSuccess(context.Background(), Order{ID: "ord_1", Status: domain.OrderStatusPaid})
	if logged != 1 {
		t.Fatalf("expected failure to be logged once, got %d", logged)
	}
}

func TestEventNotifierSurvivesCancelledCaller(t *testing.T) {
	publisher := &stubEventPublisher{}
	notifier, err := NewEventNotifier(EventNotifierDeps{Publisher: publisher})
	if err != nil {
		t.Fatalf("NewEventNotifier: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	notifier.NotifyCheckout(ctx, Order{ID: "ord_1"})
	if len(publisher.published) != 1 {
		t.Fatal("notification must be delivered even after caller cancellation")
	}
}
