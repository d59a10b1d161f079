package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/warungkita/api/internal/domain"
	pfirestore "github.com/warungkita/api/internal/platform/firestore"
	"github.com/warungkita/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the stored status changed under a conditional update.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates order dependencies are currently unavailable.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// fulfillmentTransitions maps each operator-reachable target status to the
// status the order must currently hold. Payment-settled states are owned by
// reconciliation and are deliberately absent.
var fulfillmentTransitions = map[domain.OrderStatus]domain.OrderStatus{
	domain.OrderStatusShipped:   domain.OrderStatusPaid,
	domain.OrderStatusDelivered: domain.OrderStatusShipped,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders repositories.OrderRepository
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders: deps.Orders,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ListOrders pages orders matching the supplied filter.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if s == nil || s.orders == nil {
		return domain.CursorPage[Order]{}, ErrOrderUnavailable
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, translateOrderError(err)
	}
	return page, nil
}

// GetOrder resolves a single order by id.
func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, translateOrderError(err)
	}
	return order, nil
}

// GetOrderByNumber resolves an order via its human-facing number, the same
// reference the payment provider echoes back as the external id.
func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, translateOrderError(err)
	}
	return order, nil
}

// TransitionFulfillment moves a paid order through shipped and delivered. A
// conditional update enforces the expected source state so concurrent
// operators cannot double-apply a transition.
func (s *orderService) TransitionFulfillment(ctx context.Context, cmd OrderFulfillmentCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	expected, ok := fulfillmentTransitions[cmd.TargetStatus]
	if !ok {
		return Order{}, fmt.Errorf("%w: %q is not a fulfillment target", ErrOrderInvalidState, cmd.TargetStatus)
	}

	order, err := s.orders.UpdateStatus(ctx, orderID, expected, repositories.OrderStatusUpdate{
		Status:    cmd.TargetStatus,
		UpdatedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, repositories.ErrOrderStatusConflict) {
			return Order{}, fmt.Errorf("%w: order is not %s", ErrOrderInvalidState, expected)
		}
		return Order{}, translateOrderError(err)
	}

	s.logger(ctx, "order.fulfillment_transitioned", map[string]any{
		"order_id": order.ID,
		"status":   string(order.Status),
		"actor_id": cmd.ActorID,
		"reason":   cmd.Reason,
	})
	return order, nil
}

func translateOrderError(err error) error {
	var fsErr *pfirestore.Error
	if errors.As(err, &fsErr) {
		switch {
		case fsErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrOrderNotFound, err)
		case fsErr.IsConflict():
			return fmt.Errorf("%w: %s", ErrOrderConflict, err)
		case fsErr.IsUnavailable():
			return fmt.Errorf("%w: %s", ErrOrderUnavailable, err)
		}
	}
	return err
}
