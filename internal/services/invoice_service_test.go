package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/warungkita/api/internal/domain"
	"github.com/warungkita/api/internal/payments"
	"github.com/warungkita/api/internal/repositories"
)

func payableOrder() domain.Order {
	return domain.Order{
		ID:          "ord_1",
		OrderNumber: "WK-20250506-0001",
		Status:      domain.OrderStatusPending,
		Currency:    domain.CurrencyIDR,
		Customer:    domain.Customer{Name: "Sari Dewi", Email: "sari@example.com"},
		Items: []domain.OrderLineItem{
			{ProductID: "prd_1", SKU: "KOPI-250", Name: "Kopi Gayo 250g", Quantity: 2, UnitPrice: 10_000, Total: 20_000},
		},
		Totals: domain.OrderTotals{Subtotal: 20_000, Tax: 2_200, DeliveryFee: 15_000, AdminFee: 5_000, Total: 42_200},
	}
}

func TestCreateInvoiceIssuesAndPersists(t *testing.T) {
	now := time.Date(2025, 5, 6, 10, 1, 0, 0, time.UTC)
	expiresAt := now.Add(24 * time.Hour)

	orders := &stubOrderRepository{
		findFunc: func(_ context.Context, orderID string) (domain.Order, error) {
			return payableOrder(), nil
		},
		updateFunc: func(_ context.Context, order domain.Order) error {
			if order.InvoiceID == nil || *order.InvoiceID != "inv_123" {
				t.Fatalf("expected invoice annotation on order, got %#v", order.InvoiceID)
			}
			return nil
		},
	}

	var insertedRequest domain.PaymentRequest
	requests := &stubPaymentRequestRepository{
		findPendingByOrderFunc: func(_ context.Context, _ string) (domain.PaymentRequest, error) {
			return domain.PaymentRequest{}, notFoundErr()
		},
		insertFunc: func(_ context.Context, request domain.PaymentRequest) error {
			insertedRequest = request
			return nil
		},
	}

	var issuedReq payments.InvoiceRequest
	issuer := &stubInvoiceIssuer{
		createFunc: func(_ context.Context, paymentCtx payments.PaymentContext, req payments.InvoiceRequest) (payments.Invoice, error) {
			issuedReq = req
			if paymentCtx.Currency != "IDR" {
				t.Fatalf("unexpected payment context currency %q", paymentCtx.Currency)
			}
			return payments.Invoice{
				ID:         "inv_123",
				Provider:   "invoice",
				ExternalID: req.ExternalID,
				Status:     payments.StatusPending,
				Amount:     req.Amount,
				Currency:   req.Currency,
				InvoiceURL: "https://pay.example.com/inv_123",
				ExpiresAt:  &expiresAt,
			}, nil
		},
	}

	notifier := &stubNotifier{}
	svc, err := NewInvoiceService(InvoiceServiceDeps{
		Orders:          orders,
		PaymentRequests: requests,
		Payments:        issuer,
		Notifier:        notifier,
		Clock:           func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewInvoiceService: %v", err)
	}

	details, err := svc.CreateInvoice(context.Background(), CreateInvoiceCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	if len(notifier.checkoutCalls) != 1 {
		t.Fatalf("expected one checkout notification after issuance, got %d", len(notifier.checkoutCalls))
	}
	if issuedReq.ExternalID != "WK-20250506-0001" {
		t.Fatalf("provider must receive the order number as external id, got %q", issuedReq.ExternalID)
	}
	if issuedReq.Amount != 42_200 {
		t.Fatalf("expected amount 42200, got %d", issuedReq.Amount)
	}
	if issuedReq.IdempotencyKey == "" {
		t.Fatal("expected a stable idempotency key")
	}
	if len(issuedReq.Items) != 4 || issuedReq.Items[0].SKU != "KOPI-250" {
		t.Fatalf("unexpected invoice items %#v", issuedReq.Items)
	}
	var lineSum int64
	for _, item := range issuedReq.Items {
		lineSum += item.Price * item.Quantity
	}
	if lineSum != issuedReq.Amount {
		t.Fatalf("invoice lines sum to %d, want amount %d", lineSum, issuedReq.Amount)
	}
	if insertedRequest.InvoiceID != "inv_123" || insertedRequest.Status != domain.PaymentStatusPending {
		t.Fatalf("unexpected persisted request %#v", insertedRequest)
	}
	if insertedRequest.ExternalID != "WK-20250506-0001" {
		t.Fatalf("request external id mismatch %q", insertedRequest.ExternalID)
	}
	if details.PaymentURL != "https://pay.example.com/inv_123" {
		t.Fatalf("unexpected payment url %q", details.PaymentURL)
	}
	if details.Status != domain.PaymentStatusPending {
		t.Fatalf("unexpected status %s", details.Status)
	}
	if details.ExpiresAt == nil || !details.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("unexpected expiry %v", details.ExpiresAt)
	}
}

func TestCreateInvoiceRejectsWhilePending(t *testing.T) {
	now := time.Date(2025, 5, 6, 10, 1, 0, 0, time.UTC)
	future := now.Add(12 * time.Hour)

	for name, expiresAt := range map[string]*time.Time{
		"unexpired": &future,
		"no expiry": nil,
	} {
		t.Run(name, func(t *testing.T) {
			orders := &stubOrderRepository{
				findFunc: func(_ context.Context, _ string) (domain.Order, error) {
					return payableOrder(), nil
				},
			}
			existing := domain.PaymentRequest{
				InvoiceID:  "inv_existing",
				OrderID:    "ord_1",
				Status:     domain.PaymentStatusPending,
				Amount:     42_200,
				Currency:   domain.CurrencyIDR,
				InvoiceURL: "https://pay.example.com/inv_existing",
				ExpiresAt:  expiresAt,
			}
			requests := &stubPaymentRequestRepository{
				findPendingByOrderFunc: func(_ context.Context, _ string) (domain.PaymentRequest, error) {
					return existing, nil
				},
			}
			issuer := &stubInvoiceIssuer{
				createFunc: func(_ context.Context, _ payments.PaymentContext, _ payments.InvoiceRequest) (payments.Invoice, error) {
					t.Fatal("must not issue a second invoice while one is pending")
					return payments.Invoice{}, nil
				},
			}

			svc, err := NewInvoiceService(InvoiceServiceDeps{
				Orders:          orders,
				PaymentRequests: requests,
				Payments:        issuer,
				Clock:           func() time.Time { return now },
			})
			if err != nil {
				t.Fatalf("NewInvoiceService: %v", err)
			}

			if _, err := svc.CreateInvoice(context.Background(), CreateInvoiceCommand{OrderID: "ord_1"}); !errors.Is(err, ErrInvoiceOrderNotPayable) {
				t.Fatalf("expected ErrInvoiceOrderNotPayable, got %v", err)
			}
		})
	}
}

func TestCreateInvoiceExpiredPendingDoesNotBlock(t *testing.T) {
	now := time.Date(2025, 5, 6, 10, 1, 0, 0, time.UTC)
	stale := now.Add(-time.Hour)

	orders := &stubOrderRepository{
		findFunc: func(_ context.Context, _ string) (domain.Order, error) {
			return payableOrder(), nil
		},
		updateFunc: func(_ context.Context, _ domain.Order) error { return nil },
	}
	requests := &stubPaymentRequestRepository{
		findPendingByOrderFunc: func(_ context.Context, _ string) (domain.PaymentRequest, error) {
			return domain.PaymentRequest{
				InvoiceID: "inv_stale",
				OrderID:   "ord_1",
				Status:    domain.PaymentStatusPending,
				ExpiresAt: &stale,
			}, nil
		},
		insertFunc: func(_ context.Context, _ domain.PaymentRequest) error { return nil },
	}
	issuer := &stubInvoiceIssuer{
		createFunc: func(_ context.Context, _ payments.PaymentContext, req payments.InvoiceRequest) (payments.Invoice, error) {
			return payments.Invoice{
				ID:       "inv_fresh",
				Provider: "invoice",
				Status:   payments.StatusPending,
				Amount:   req.Amount,
				Currency: req.Currency,
			}, nil
		},
	}

	svc, err := NewInvoiceService(InvoiceServiceDeps{
		Orders:          orders,
		PaymentRequests: requests,
		Payments:        issuer,
		Clock:           func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewInvoiceService: %v", err)
	}

	details, err := svc.CreateInvoice(context.Background(), CreateInvoiceCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if details.InvoiceID != "inv_fresh" {
		t.Fatalf("expected a fresh invoice past the stale expiry, got %q", details.InvoiceID)
	}
}

func TestCreateInvoiceRejectsUnpayableOrder(t *testing.T) {
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusPaid,
		domain.OrderStatusExpired,
		domain.OrderStatusFailed,
		domain.OrderStatusRefunded,
	} {
		t.Run(string(status), func(t *testing.T) {
			orders := &stubOrderRepository{
				findFunc: func(_ context.Context, _ string) (domain.Order, error) {
					order := payableOrder()
					order.Status = status
					return order, nil
				},
			}
			svc, err := NewInvoiceService(InvoiceServiceDeps{
				Orders:          orders,
				PaymentRequests: &stubPaymentRequestRepository{},
				Payments:        &stubInvoiceIssuer{},
			})
			if err != nil {
				t.Fatalf("NewInvoiceService: %v", err)
			}
			if _, err := svc.CreateInvoice(context.Background(), CreateInvoiceCommand{OrderID: "ord_1"}); !errors.Is(err, ErrInvoiceOrderNotPayable) {
				t.Fatalf("expected ErrInvoiceOrderNotPayable, got %v", err)
			}
		})
	}
}

func TestCreateInvoiceOrderNotFound(t *testing.T) {
	orders := &stubOrderRepository{
		findFunc: func(_ context.Context, _ string) (domain.Order, error) {
			return domain.Order{}, notFoundErr()
		},
	}
	svc, err := NewInvoiceService(InvoiceServiceDeps{
		Orders:          orders,
		PaymentRequests: &stubPaymentRequestRepository{},
		Payments:        &stubInvoiceIssuer{},
	})
	if err != nil {
		t.Fatalf("NewInvoiceService: %v", err)
	}
	if _, err := svc.CreateInvoice(context.Background(), CreateInvoiceCommand{OrderID: "ord_missing"}); !errors.Is(err, ErrInvoiceOrderNotFound) {
		t.Fatalf("expected ErrInvoiceOrderNotFound, got %v", err)
	}
}

func TestCreateInvoiceProviderFailure(t *testing.T) {
	orders := &stubOrderRepository{
		findFunc: func(_ context.Context, _ string) (domain.Order, error) {
			return payableOrder(), nil
		},
	}
	requests := &stubPaymentRequestRepository{
		findPendingByOrderFunc: func(_ context.Context, _ string) (domain.PaymentRequest, error) {
			return domain.PaymentRequest{}, notFoundErr()
		},
	}
	issuer := &stubInvoiceIssuer{
		createFunc: func(_ context.Context, _ payments.PaymentContext, _ payments.InvoiceRequest) (payments.Invoice, error) {
			return payments.Invoice{}, errors.New("gateway timeout")
		},
	}

	svc, err := NewInvoiceService(InvoiceServiceDeps{Orders: orders, PaymentRequests: requests, Payments: issuer})
	if err != nil {
		t.Fatalf("NewInvoiceService: %v", err)
	}
	if _, err := svc.CreateInvoice(context.Background(), CreateInvoiceCommand{OrderID: "ord_1"}); !errors.Is(err, ErrInvoiceProviderUnavailable) {
		t.Fatalf("expected ErrInvoiceProviderUnavailable, got %v", err)
	}
}

func TestCreateInvoiceLosesInsertRace(t *testing.T) {
	orders := &stubOrderRepository{
		findFunc: func(_ context.Context, _ string) (domain.Order, error) {
			return payableOrder(), nil
		},
	}
	requests := &stubPaymentRequestRepository{
		findPendingByOrderFunc: func(_ context.Context, _ string) (domain.PaymentRequest, error) {
			return domain.PaymentRequest{}, notFoundErr()
		},
		insertFunc: func(_ context.Context, _ domain.PaymentRequest) error {
			return repositories.ErrPendingPaymentExists
		},
	}
	issuer := &stubInvoiceIssuer{
		createFunc: func(_ context.Context, _ payments.PaymentContext, req payments.InvoiceRequest) (payments.Invoice, error) {
			return payments.Invoice{ID: "inv_loser", Provider: "invoice", Status: payments.StatusPending}, nil
		},
	}

	svc, err := NewInvoiceService(InvoiceServiceDeps{Orders: orders, PaymentRequests: requests, Payments: issuer})
	if err != nil {
		t.Fatalf("NewInvoiceService: %v", err)
	}

	if _, err := svc.CreateInvoice(context.Background(), CreateInvoiceCommand{OrderID: "ord_1"}); !errors.Is(err, ErrInvoiceOrderNotPayable) {
		t.Fatalf("expected ErrInvoiceOrderNotPayable after losing the insert race, got %v", err)
	}
}
