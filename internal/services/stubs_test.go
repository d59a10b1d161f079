package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/warungkita/api/internal/domain"
	"github.com/warungkita/api/internal/payments"
	"github.com/warungkita/api/internal/repositories"
)

// errStubNotImplemented marks stub methods a test did not expect to be called.
var errStubNotImplemented = errors.New("stub: not implemented")

type stubProductRepository struct {
	insertFunc         func(ctx context.Context, product domain.Product) error
	updateFunc         func(ctx context.Context, product domain.Product) error
	findFunc           func(ctx context.Context, productID string) (domain.Product, error)
	listFunc           func(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
	decrementStockFunc func(ctx context.Context, lines []repositories.StockLine) error
	restoreStockFunc   func(ctx context.Context, lines []repositories.StockLine) error
}

func (s *stubProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if s.insertFunc == nil {
		return errStubNotImplemented
	}
	return s.insertFunc(ctx, product)
}

func (s *stubProductRepository) Update(ctx context.Context, product domain.Product) error {
	if s.updateFunc == nil {
		return errStubNotImplemented
	}
	return s.updateFunc(ctx, product)
}

func (s *stubProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFunc == nil {
		return domain.Product{}, errStubNotImplemented
	}
	return s.findFunc(ctx, productID)
}

func (s *stubProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Product]{}, errStubNotImplemented
	}
	return s.listFunc(ctx, filter)
}

func (s *stubProductRepository) DecrementStock(ctx context.Context, lines []repositories.StockLine) error {
	if s.decrementStockFunc == nil {
		return errStubNotImplemented
	}
	return s.decrementStockFunc(ctx, lines)
}

func (s *stubProductRepository) RestoreStock(ctx context.Context, lines []repositories.StockLine) error {
	if s.restoreStockFunc == nil {
		return errStubNotImplemented
	}
	return s.restoreStockFunc(ctx, lines)
}

type stubOrderRepository struct {
	insertFunc       func(ctx context.Context, order domain.Order) error
	updateFunc       func(ctx context.Context, order domain.Order) error
	updateStatusFunc func(ctx context.Context, orderID string, expected domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error)
	findFunc         func(ctx context.Context, orderID string) (domain.Order, error)
	findByNumberFunc func(ctx context.Context, orderNumber string) (domain.Order, error)
	listFunc         func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFunc == nil {
		return errStubNotImplemented
	}
	return s.insertFunc(ctx, order)
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order) error {
	if s.updateFunc == nil {
		return errStubNotImplemented
	}
	return s.updateFunc(ctx, order)
}

func (s *stubOrderRepository) UpdateStatus(ctx context.Context, orderID string, expected domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if s.updateStatusFunc == nil {
		return domain.Order{}, errStubNotImplemented
	}
	return s.updateStatusFunc(ctx, orderID, expected, update)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFunc == nil {
		return domain.Order{}, errStubNotImplemented
	}
	return s.findFunc(ctx, orderID)
}

func (s *stubOrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if s.findByNumberFunc == nil {
		return domain.Order{}, errStubNotImplemented
	}
	return s.findByNumberFunc(ctx, orderNumber)
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Order]{}, errStubNotImplemented
	}
	return s.listFunc(ctx, filter)
}

type stubPaymentRequestRepository struct {
	insertFunc             func(ctx context.Context, request domain.PaymentRequest) error
	updateFunc             func(ctx context.Context, request domain.PaymentRequest) error
	findByInvoiceFunc      func(ctx context.Context, invoiceID string) (domain.PaymentRequest, error)
	findPendingByOrderFunc func(ctx context.Context, orderID string) (domain.PaymentRequest, error)
	listPendingFunc        func(ctx context.Context, olderThan time.Time, limit int) ([]domain.PaymentRequest, error)
}

func (s *stubPaymentRequestRepository) Insert(ctx context.Context, request domain.PaymentRequest) error {
	if s.insertFunc == nil {
		return errStubNotImplemented
	}
	return s.insertFunc(ctx, request)
}

func (s *stubPaymentRequestRepository) Update(ctx context.Context, request domain.PaymentRequest) error {
	if s.updateFunc == nil {
		return errStubNotImplemented
	}
	return s.updateFunc(ctx, request)
}

func (s *stubPaymentRequestRepository) FindByInvoiceID(ctx context.Context, invoiceID string) (domain.PaymentRequest, error) {
	if s.findByInvoiceFunc == nil {
		return domain.PaymentRequest{}, errStubNotImplemented
	}
	return s.findByInvoiceFunc(ctx, invoiceID)
}

func (s *stubPaymentRequestRepository) FindPendingByOrder(ctx context.Context, orderID string) (domain.PaymentRequest, error) {
	if s.findPendingByOrderFunc == nil {
		return domain.PaymentRequest{}, errStubNotImplemented
	}
	return s.findPendingByOrderFunc(ctx, orderID)
}

func (s *stubPaymentRequestRepository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.PaymentRequest, error) {
	if s.listPendingFunc == nil {
		return nil, errStubNotImplemented
	}
	return s.listPendingFunc(ctx, olderThan, limit)
}

type stubReconciliationEventRepository struct {
	appendFunc        func(ctx context.Context, event domain.ReconciliationEvent) error
	listByOrderFunc   func(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.ReconciliationEvent], error)
	listByInvoiceFunc func(ctx context.Context, invoiceID string, pager domain.Pagination) (domain.CursorPage[domain.ReconciliationEvent], error)
}

func (s *stubReconciliationEventRepository) Append(ctx context.Context, event domain.ReconciliationEvent) error {
	if s.appendFunc == nil {
		return nil
	}
	return s.appendFunc(ctx, event)
}

func (s *stubReconciliationEventRepository) ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.ReconciliationEvent], error) {
	if s.listByOrderFunc == nil {
		return domain.CursorPage[domain.ReconciliationEvent]{}, errStubNotImplemented
	}
	return s.listByOrderFunc(ctx, orderID, pager)
}

func (s *stubReconciliationEventRepository) ListByInvoice(ctx context.Context, invoiceID string, pager domain.Pagination) (domain.CursorPage[domain.ReconciliationEvent], error) {
	if s.listByInvoiceFunc == nil {
		return domain.CursorPage[domain.ReconciliationEvent]{}, errStubNotImplemented
	}
	return s.listByInvoiceFunc(ctx, invoiceID, pager)
}

type stubCounterRepository struct {
	nextFunc func(ctx context.Context, counterID string, step int64) (int64, error)
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFunc == nil {
		return 0, errStubNotImplemented
	}
	return s.nextFunc(ctx, counterID, step)
}

func (s *stubCounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	return nil
}

type stubNotifier struct {
	checkoutCalls []Order
	paymentCalls  []Order
}

func (s *stubNotifier) NotifyCheckout(ctx context.Context, order Order) {
	s.checkoutCalls = append(s.checkoutCalls, order)
}

func (s *stubNotifier) NotifyPaymentSuccess(ctx context.Context, order Order) {
	s.paymentCalls = append(s.paymentCalls, order)
}

type stubInvoiceIssuer struct {
	createFunc func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.InvoiceRequest) (payments.Invoice, error)
}

func (s *stubInvoiceIssuer) CreateInvoice(ctx context.Context, paymentCtx payments.PaymentContext, req payments.InvoiceRequest) (payments.Invoice, error) {
	if s.createFunc == nil {
		return payments.Invoice{}, errStubNotImplemented
	}
	return s.createFunc(ctx, paymentCtx, req)
}

type stubInvoiceFetcher struct {
	getFunc func(ctx context.Context, providerKey, invoiceID string) (payments.Invoice, error)
}

func (s *stubInvoiceFetcher) GetInvoice(ctx context.Context, providerKey, invoiceID string) (payments.Invoice, error) {
	if s.getFunc == nil {
		return payments.Invoice{}, errStubNotImplemented
	}
	return s.getFunc(ctx, providerKey, invoiceID)
}
