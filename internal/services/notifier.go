package services

import (
	"context"
	"errors"
	"time"
)

const (
	notificationCheckoutCompleted = "order.checkout.completed"
	notificationPaymentSucceeded  = "order.payment.succeeded"

	defaultNotifyTimeout = 5 * time.Second
)

// EventNotifier is a fire-and-forget Notifier backed by an order event
// publisher. Delivery failures are logged and never surface to callers; the
// transitions that trigger notifications have already committed.
type EventNotifier struct {
	publisher OrderEventPublisher
	timeout   time.Duration
	clock     func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// EventNotifierDeps wires the dependencies required by the event notifier.
type EventNotifierDeps struct {
	Publisher OrderEventPublisher
	Timeout   time.Duration
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewEventNotifier constructs an EventNotifier validating required dependencies.
func NewEventNotifier(deps EventNotifierDeps) (*EventNotifier, error) {
	if deps.Publisher == nil {
		return nil, errors.New("event notifier: publisher is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	return &EventNotifier{
		publisher: deps.Publisher,
		timeout:   timeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// NotifyCheckout announces a newly created order.
func (n *EventNotifier) NotifyCheckout(ctx context.Context, order Order) {
	n.publish(ctx, notificationCheckoutCompleted, order)
}

// NotifyPaymentSuccess announces a settled payment.
func (n *EventNotifier) NotifyPaymentSuccess(ctx context.Context, order Order) {
	n.publish(ctx, notificationPaymentSucceeded, order)
}

func (n *EventNotifier) publish(ctx context.Context, eventType string, order Order) {
	if n == nil || n.publisher == nil {
		return
	}
	// Detach from the request context so caller cancellation does not drop
	// an already-owed notification.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	msg := OrderEventMessage{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Source:      "reconciliation-engine",
		OccurredAt:  n.clock(),
	}
	if _, err := n.publisher.PublishOrderEvent(pubCtx, msg); err != nil {
		n.logger(ctx, "notify.publish_failed", map[string]any{
			"type":     eventType,
			"order_id": order.ID,
			"error":    err.Error(),
		})
		return
	}
	n.logger(ctx, "notify.published", map[string]any{
		"type":     eventType,
		"order_id": order.ID,
	})
}

var _ Notifier = (*EventNotifier)(nil)
