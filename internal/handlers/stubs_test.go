package handlers

import (
	"context"
	"errors"

	domain "github.com/warungkita/api/internal/domain"
	"github.com/warungkita/api/internal/services"
)

var errStubNotImplemented = errors.New("stub: not implemented")

type stubCheckoutService struct {
	checkoutFunc func(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error)
	quoteFunc    func(ctx context.Context, cmd services.QuoteCommand) (services.PricingBreakdown, error)
}

func (s *stubCheckoutService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
	if s.checkoutFunc == nil {
		return services.Order{}, errStubNotImplemented
	}
	return s.checkoutFunc(ctx, cmd)
}

func (s *stubCheckoutService) Quote(ctx context.Context, cmd services.QuoteCommand) (services.PricingBreakdown, error) {
	if s.quoteFunc == nil {
		return services.PricingBreakdown{}, errStubNotImplemented
	}
	return s.quoteFunc(ctx, cmd)
}

type stubOrderService struct {
	listFunc       func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	getFunc        func(ctx context.Context, orderID string) (services.Order, error)
	getByNumber    func(ctx context.Context, orderNumber string) (services.Order, error)
	transitionFunc func(ctx context.Context, cmd services.OrderFulfillmentCommand) (services.Order, error)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFunc == nil {
		return domain.CursorPage[services.Order]{}, errStubNotImplemented
	}
	return s.listFunc(ctx, filter)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFunc == nil {
		return services.Order{}, errStubNotImplemented
	}
	return s.getFunc(ctx, orderID)
}

func (s *stubOrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (services.Order, error) {
	if s.getByNumber == nil {
		return services.Order{}, errStubNotImplemented
	}
	return s.getByNumber(ctx, orderNumber)
}

func (s *stubOrderService) TransitionFulfillment(ctx context.Context, cmd services.OrderFulfillmentCommand) (services.Order, error) {
	if s.transitionFunc == nil {
		return services.Order{}, errStubNotImplemented
	}
	return s.transitionFunc(ctx, cmd)
}

type stubProductService struct {
	createFunc func(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error)
	updateFunc func(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error)
	getFunc    func(ctx context.Context, productID string) (services.Product, error)
	listFunc   func(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error)
}

func (s *stubProductService) CreateProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.createFunc == nil {
		return services.Product{}, errStubNotImplemented
	}
	return s.createFunc(ctx, cmd)
}

func (s *stubProductService) UpdateProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.updateFunc == nil {
		return services.Product{}, errStubNotImplemented
	}
	return s.updateFunc(ctx, cmd)
}

func (s *stubProductService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.getFunc == nil {
		return services.Product{}, errStubNotImplemented
	}
	return s.getFunc(ctx, productID)
}

func (s *stubProductService) ListProducts(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error) {
	if s.listFunc == nil {
		return domain.CursorPage[services.Product]{}, errStubNotImplemented
	}
	return s.listFunc(ctx, filter)
}

type stubInvoiceService struct {
	createFunc func(ctx context.Context, cmd services.CreateInvoiceCommand) (services.InvoiceDetails, error)
}

func (s *stubInvoiceService) CreateInvoice(ctx context.Context, cmd services.CreateInvoiceCommand) (services.InvoiceDetails, error) {
	if s.createFunc == nil {
		return services.InvoiceDetails{}, errStubNotImplemented
	}
	return s.createFunc(ctx, cmd)
}

type stubReconciliationService struct {
	webhookFunc    func(ctx context.Context, cmd services.WebhookCommand) (services.ReconciliationOutcome, error)
	pollOrderFunc  func(ctx context.Context, orderID string) (services.PaymentStatusView, error)
	pollFunc       func(ctx context.Context) (services.PollSummary, error)
	listEventsFunc func(ctx context.Context, filter services.ReconciliationEventFilter) (domain.CursorPage[services.ReconciliationEvent], error)
}

func (s *stubReconciliationService) ProcessWebhook(ctx context.Context, cmd services.WebhookCommand) (services.ReconciliationOutcome, error) {
	if s.webhookFunc == nil {
		return services.ReconciliationOutcome{}, errStubNotImplemented
	}
	return s.webhookFunc(ctx, cmd)
}

func (s *stubReconciliationService) PollOrderStatus(ctx context.Context, orderID string) (services.PaymentStatusView, error) {
	if s.pollOrderFunc == nil {
		return services.PaymentStatusView{}, errStubNotImplemented
	}
	return s.pollOrderFunc(ctx, orderID)
}

func (s *stubReconciliationService) PollPending(ctx context.Context) (services.PollSummary, error) {
	if s.pollFunc == nil {
		return services.PollSummary{}, errStubNotImplemented
	}
	return s.pollFunc(ctx)
}

func (s *stubReconciliationService) ListEvents(ctx context.Context, filter services.ReconciliationEventFilter) (domain.CursorPage[services.ReconciliationEvent], error) {
	if s.listEventsFunc == nil {
		return domain.CursorPage[services.ReconciliationEvent]{}, errStubNotImplemented
	}
	return s.listEventsFunc(ctx, filter)
}

type stubSystemService struct {
	report     services.SystemHealthReport
	reportErr  error
	counterVal int64
	counterErr error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.reportErr
}

func (s *stubSystemService) NextCounterValue(context.Context, services.CounterCommand) (int64, error) {
	return s.counterVal, s.counterErr
}
