package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warungkita/api/internal/platform/httpx"
	"github.com/warungkita/api/internal/services"
)

const (
	maxPaymentBodySize = 16 * 1024

	// Status polls are cheap but hit the provider; cap per-order frequency.
	statusPollLimit  = 30
	statusPollWindow = 10 * time.Second
)

type createInvoiceRequest struct {
	OrderID  string `json:"order_id"`
	Provider string `json:"provider"`
}

type invoicePayload struct {
	OrderID    string `json:"order_id"`
	InvoiceID  string `json:"invoice_id"`
	Provider   string `json:"provider"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	PaymentURL string `json:"payment_url"`
	ExpiryDate string `json:"expiry_date,omitempty"`
}

type paymentStatusPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	InvoiceID   string `json:"invoice_id"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	PaymentURL  string `json:"payment_url,omitempty"`
	ExpiryDate  string `json:"expiry_date,omitempty"`
	PaidAt      string `json:"paid_at,omitempty"`
}

// orderWatcher starts a bounded background status watch for a freshly
// invoiced order, covering the window where webhooks may be delayed.
type orderWatcher interface {
	WatchOrder(ctx context.Context, orderID string)
}

// PaymentHandlers exposes invoice issuance and the client-facing status poll.
type PaymentHandlers struct {
	invoices       services.InvoiceService
	reconciliation services.ReconciliationService
	statusLimiter  rateLimiter
	watcher        orderWatcher
}

// PaymentOption customises PaymentHandlers construction.
type PaymentOption func(*PaymentHandlers)

// WithOrderWatcher starts a background status watch after each issued invoice.
func WithOrderWatcher(watcher orderWatcher) PaymentOption {
	return func(h *PaymentHandlers) {
		h.watcher = watcher
	}
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(invoices services.InvoiceService, reconciliation services.ReconciliationService, opts ...PaymentOption) *PaymentHandlers {
	h := &PaymentHandlers{
		invoices:       invoices,
		reconciliation: reconciliation,
		statusLimiter:  newFixedWindowLimiter(statusPollLimit, statusPollWindow, time.Now),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/create", h.createInvoice)
	r.Get("/status", h.paymentStatus)
}

func (h *PaymentHandlers) createInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.invoices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxPaymentBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createInvoiceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	details, err := h.invoices.CreateInvoice(ctx, services.CreateInvoiceCommand{
		OrderID:           strings.TrimSpace(req.OrderID),
		PreferredProvider: strings.TrimSpace(req.Provider),
	})
	if err != nil {
		writeInvoiceError(ctx, w, err)
		return
	}

	if h.watcher != nil {
		// The watch must outlive the request.
		go h.watcher.WatchOrder(context.WithoutCancel(ctx), details.OrderID)
	}

	writeJSONResponse(w, http.StatusCreated, invoicePayload{
		OrderID:    details.OrderID,
		InvoiceID:  details.InvoiceID,
		Provider:   details.Provider,
		Status:     string(details.Status),
		Amount:     details.Amount,
		Currency:   strings.ToUpper(string(details.Currency)),
		PaymentURL: details.PaymentURL,
		ExpiryDate: formatTime(pointerTime(details.ExpiresAt)),
	})
}

func (h *PaymentHandlers) paymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciliation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(r.URL.Query().Get("order_id"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id query parameter is required", http.StatusBadRequest))
		return
	}

	if h.statusLimiter != nil && !h.statusLimiter.Allow(orderID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many status polls for this order", http.StatusTooManyRequests))
		return
	}

	view, err := h.reconciliation.PollOrderStatus(ctx, orderID)
	if err != nil {
		writeReconciliationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentStatusPayload{
		OrderID:     view.OrderID,
		OrderNumber: view.OrderNumber,
		InvoiceID:   view.InvoiceID,
		Status:      string(view.Status),
		Amount:      view.Amount,
		Currency:    strings.ToUpper(string(view.Currency)),
		PaymentURL:  view.PaymentURL,
		ExpiryDate:  formatTime(pointerTime(view.ExpiresAt)),
		PaidAt:      formatTime(pointerTime(view.PaidAt)),
	})
}

func writeInvoiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInvoiceInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvoiceOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvoiceOrderNotPayable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_payable", "order is not payable in its current status", http.StatusConflict))
	case errors.Is(err, services.ErrInvoiceProviderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("provider_unavailable", "payment provider unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrInvoiceUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment store temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to create invoice", http.StatusInternalServerError))
	}
}

func writeReconciliationError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrReconciliationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReconciliationOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReconciliationNoInvoice):
		httpx.WriteError(ctx, w, httpx.NewError("invoice_not_found", "order has no payment request", http.StatusNotFound))
	case errors.Is(err, services.ErrReconciliationUnknownInvoice):
		httpx.WriteError(ctx, w, httpx.NewError("invoice_not_found", "invoice not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReconciliationProviderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("provider_unavailable", "payment provider unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrReconciliationUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment store temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to resolve payment status", http.StatusInternalServerError))
	}
}
