package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/warungkita/api/internal/platform/auth"
	"github.com/warungkita/api/internal/services"
)

func TestRouterMountsConfiguredGroups(t *testing.T) {
	orders := &stubOrderService{
		getFunc: func(context.Context, string) (services.Order, error) {
			return sampleOrder(), nil
		},
	}
	reconciliation := &stubReconciliationService{
		pollOrderFunc: func(context.Context, string) (services.PaymentStatusView, error) {
			return services.PaymentStatusView{OrderID: "ord_1"}, nil
		},
	}

	router := NewRouter(
		WithOrderRoutes(NewOrderHandlers(&stubCheckoutService{}, orders).Routes),
		WithPaymentRoutes(NewPaymentHandlers(&stubInvoiceService{}, reconciliation).Routes),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected mounted order route to respond 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/payments/status?order_id=ord_1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected mounted payment route to respond 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected healthz to respond 200, got %d", rr.Code)
	}
}

func TestRouterUnconfiguredGroupReturnsNotImplemented(t *testing.T) {
	router := NewRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 for unconfigured group, got %d", rr.Code)
	}
}

func TestRouterUnknownRouteReturnsNotFound(t *testing.T) {
	router := NewRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestRouterWebhookTokenMiddleware(t *testing.T) {
	reconciliation := &stubReconciliationService{
		webhookFunc: func(context.Context, services.WebhookCommand) (services.ReconciliationOutcome, error) {
			return services.ReconciliationOutcome{Applied: true, Note: "applied"}, nil
		},
	}
	validator, err := auth.NewCallbackTokenValidator(auth.StaticCallbackToken("secret-token"), "")
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}

	router := NewRouter(
		WithWebhookRoutes(NewWebhookHandlers(reconciliation).Routes),
		WithWebhookMiddlewares(validator.RequireCallbackToken()),
	)

	body := `{"id": "inv_123", "status": "PAID"}`

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment-provider", strings.NewReader(body)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment-provider", strings.NewReader(body))
	req.Header.Set("X-Callback-Token", "wrong-token")
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment-provider", strings.NewReader(body))
	req.Header.Set("X-Callback-Token", "secret-token")
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d: %s", rr.Code, rr.Body.String())
	}
}
