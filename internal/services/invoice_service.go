package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/warungkita/api/internal/domain"
	"github.com/warungkita/api/internal/payments"
	pfirestore "github.com/warungkita/api/internal/platform/firestore"
	"github.com/warungkita/api/internal/repositories"
)

const defaultInvoiceDuration = 24 * time.Hour

var (
	// ErrInvoiceInvalidInput indicates the caller supplied invalid input parameters.
	ErrInvoiceInvalidInput = errors.New("invoice: invalid input")
	// ErrInvoiceUnavailable indicates invoice dependencies are currently unavailable.
	ErrInvoiceUnavailable = errors.New("invoice: unavailable")
	// ErrInvoiceOrderNotFound indicates the order the invoice targets does not exist.
	ErrInvoiceOrderNotFound = errors.New("invoice: order not found")
	// ErrInvoiceOrderNotPayable indicates the order is no longer in a payable state.
	ErrInvoiceOrderNotPayable = errors.New("invoice: order not payable")
	// ErrInvoiceProviderUnavailable indicates the payment provider rejected or timed out on the request.
	ErrInvoiceProviderUnavailable = errors.New("invoice: payment provider unavailable")
)

// invoiceIssuer abstracts payments.Manager for easier testing.
type invoiceIssuer interface {
	CreateInvoice(ctx context.Context, paymentCtx payments.PaymentContext, req payments.InvoiceRequest) (payments.Invoice, error)
}

// InvoiceServiceDeps wires the dependencies required by the invoice service.
type InvoiceServiceDeps struct {
	Orders          repositories.OrderRepository
	PaymentRequests repositories.PaymentRequestRepository
	Payments        invoiceIssuer
	Notifier        Notifier
	InvoiceDuration time.Duration
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type invoiceService struct {
	orders          repositories.OrderRepository
	paymentRequests repositories.PaymentRequestRepository
	payments        invoiceIssuer
	notifier        Notifier
	invoiceDuration time.Duration
	now             func() time.Time
	logger          func(ctx context.Context, event string, fields map[string]any)
}

// NewInvoiceService constructs an InvoiceService validating required dependencies.
func NewInvoiceService(deps InvoiceServiceDeps) (InvoiceService, error) {
	if deps.Orders == nil {
		return nil, errors.New("invoice service: order repository is required")
	}
	if deps.PaymentRequests == nil {
		return nil, errors.New("invoice service: payment request repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("invoice service: payment manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	duration := deps.InvoiceDuration
	if duration <= 0 {
		duration = defaultInvoiceDuration
	}

	return &invoiceService{
		orders:          deps.Orders,
		paymentRequests: deps.PaymentRequests,
		payments:        deps.Payments,
		notifier:        deps.Notifier,
		invoiceDuration: duration,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateInvoice issues a hosted invoice for a payable order. Calling it again
// while an unexpired pending request exists fails with ErrInvoiceOrderNotPayable.
func (s *invoiceService) CreateInvoice(ctx context.Context, cmd CreateInvoiceCommand) (InvoiceDetails, error) {
	if s == nil || s.orders == nil || s.paymentRequests == nil || s.payments == nil {
		return InvoiceDetails{}, ErrInvoiceUnavailable
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return InvoiceDetails{}, fmt.Errorf("%w: order id is required", ErrInvoiceInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return InvoiceDetails{}, translateInvoiceOrderError(err)
	}
	if !order.Payable() {
		return InvoiceDetails{}, fmt.Errorf("%w: order %s is %s", ErrInvoiceOrderNotPayable, order.ID, order.Status)
	}

	// A live pending invoice blocks a second issuance; one past its expiry
	// no longer does.
	existing, err := s.paymentRequests.FindPendingByOrder(ctx, order.ID)
	switch {
	case err == nil:
		if existing.ExpiresAt == nil || existing.ExpiresAt.After(s.now()) {
			s.logger(ctx, "invoice.rejected_pending", map[string]any{
				"order_id":   order.ID,
				"invoice_id": existing.InvoiceID,
			})
			return InvoiceDetails{}, fmt.Errorf("%w: order %s already has pending invoice %s", ErrInvoiceOrderNotPayable, order.ID, existing.InvoiceID)
		}
	default:
		var fsErr *pfirestore.Error
		if !errors.As(err, &fsErr) || !fsErr.IsNotFound() {
			return InvoiceDetails{}, fmt.Errorf("%w: pending lookup failed: %s", ErrInvoiceUnavailable, err)
		}
	}

	invoice, err := s.payments.CreateInvoice(ctx, payments.PaymentContext{
		PreferredProvider: cmd.PreferredProvider,
		Currency:          string(order.Currency),
	}, s.buildInvoiceRequest(order))
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return InvoiceDetails{}, fmt.Errorf("%w: %s", ErrInvoiceInvalidInput, err)
		}
		return InvoiceDetails{}, fmt.Errorf("%w: %s", ErrInvoiceProviderUnavailable, err)
	}

	now := s.now()
	request := domain.PaymentRequest{
		InvoiceID:  invoice.ID,
		OrderID:    order.ID,
		ExternalID: order.OrderNumber,
		Provider:   invoice.Provider,
		Status:     domain.PaymentStatusPending,
		Amount:     order.Totals.Total,
		Currency:   order.Currency,
		InvoiceURL: invoice.InvoiceURL,
		Raw:        invoice.Raw,
		ExpiresAt:  invoice.ExpiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.paymentRequests.Insert(ctx, request); err != nil {
		if errors.Is(err, repositories.ErrPendingPaymentExists) {
			// Lost the race against a concurrent create.
			return InvoiceDetails{}, fmt.Errorf("%w: order %s already has a pending invoice", ErrInvoiceOrderNotPayable, order.ID)
		}
		return InvoiceDetails{}, fmt.Errorf("invoice: persist failed: %w", err)
	}

	updated := order
	updated.InvoiceID = &request.InvoiceID
	updated.InvoiceURL = &request.InvoiceURL
	updated.UpdatedAt = now
	if err := s.orders.Update(ctx, updated); err != nil {
		// The payment request is authoritative for reconciliation; the order
		// annotation is advisory, so log and continue.
		s.logger(ctx, "invoice.order_annotation_failed", map[string]any{
			"order_id":   order.ID,
			"invoice_id": request.InvoiceID,
			"error":      err.Error(),
		})
	}

	s.logger(ctx, "invoice.created", map[string]any{
		"order_id":   order.ID,
		"invoice_id": request.InvoiceID,
		"provider":   request.Provider,
		"amount":     request.Amount,
	})
	if s.notifier != nil {
		s.notifier.NotifyCheckout(ctx, updated)
	}
	return invoiceDetailsFromRequest(order, request), nil
}

func (s *invoiceService) buildInvoiceRequest(order Order) payments.InvoiceRequest {
	currency := string(order.Currency)
	items := make([]payments.InvoiceLineItem, 0, len(order.Items)+3)
	for _, item := range order.Items {
		items = append(items, payments.InvoiceLineItem{
			Name:     item.Name,
			SKU:      item.SKU,
			Quantity: int64(item.Quantity),
			Price:    item.UnitPrice,
			Currency: currency,
		})
	}
	// Fee lines keep the invoice itemisation summing to the charged amount.
	for _, fee := range []struct {
		name   string
		amount int64
	}{
		{"Tax", order.Totals.Tax},
		{"Delivery fee", order.Totals.DeliveryFee},
		{"Admin fee", order.Totals.AdminFee},
	} {
		if fee.amount <= 0 {
			continue
		}
		items = append(items, payments.InvoiceLineItem{
			Name:     fee.name,
			Quantity: 1,
			Price:    fee.amount,
			Currency: currency,
		})
	}
	return payments.InvoiceRequest{
		ExternalID:     order.OrderNumber,
		Amount:         order.Totals.Total,
		Currency:       string(order.Currency),
		Description:    fmt.Sprintf("Order %s", order.OrderNumber),
		PayerName:      order.Customer.Name,
		PayerEmail:     order.Customer.Email,
		Duration:       s.invoiceDuration,
		IdempotencyKey: invoiceIdempotencyKey(order.ID),
		Metadata: map[string]string{
			"order_id": order.ID,
		},
		Items: items,
	}
}

func invoiceDetailsFromRequest(order Order, request PaymentRequest) InvoiceDetails {
	return InvoiceDetails{
		OrderID:    order.ID,
		InvoiceID:  request.InvoiceID,
		Provider:   request.Provider,
		Status:     request.Status,
		Amount:     request.Amount,
		Currency:   request.Currency,
		PaymentURL: request.InvoiceURL,
		ExpiresAt:  request.ExpiresAt,
	}
}

// invoiceIdempotencyKey derives a stable provider idempotency key so retried
// creates for the same order collapse into one invoice.
func invoiceIdempotencyKey(orderID string) string {
	sum := sha256.Sum256([]byte("invoice:" + orderID))
	return hex.EncodeToString(sum[:16])
}

func translateInvoiceOrderError(err error) error {
	var fsErr *pfirestore.Error
	if errors.As(err, &fsErr) && fsErr.IsNotFound() {
		return fmt.Errorf("%w: %s", ErrInvoiceOrderNotFound, err)
	}
	return fmt.Errorf("invoice: order lookup failed: %w", err)
}
