package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warungkita/api/internal/platform/httpx"
	"github.com/warungkita/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// paymentProviderCallback mirrors the invoice provider's webhook payload. The
// provider echoes the order number back as external_id.
type paymentProviderCallback struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	PaidAt     string `json:"paid_at"`
}

type webhookAckPayload struct {
	Applied     bool   `json:"applied"`
	Note        string `json:"note,omitempty"`
	OrderStatus string `json:"order_status,omitempty"`
}

// WebhookHandlers ingests payment provider callbacks. Token authentication is
// applied as group middleware before these handlers run.
type WebhookHandlers struct {
	reconciliation services.ReconciliationService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(reconciliation services.ReconciliationService) *WebhookHandlers {
	return &WebhookHandlers{reconciliation: reconciliation}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment-provider", h.paymentProvider)
}

func (h *WebhookHandlers) paymentProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciliation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "reconciliation service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var callback paymentProviderCallback
	if err := json.Unmarshal(body, &callback); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}
	invoiceID := strings.TrimSpace(callback.ID)
	rawStatus := strings.TrimSpace(callback.Status)
	if invoiceID == "" || rawStatus == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "callback must carry id and status", http.StatusBadRequest))
		return
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		raw = nil
	}

	cmd := services.WebhookCommand{
		Provider:   "invoice",
		InvoiceID:  invoiceID,
		ExternalID: strings.TrimSpace(callback.ExternalID),
		RawStatus:  rawStatus,
		Raw:        raw,
	}
	if paidAt := strings.TrimSpace(callback.PaidAt); paidAt != "" {
		if ts, err := parseTimeParam(paidAt); err == nil {
			cmd.PaidAt = &ts
		}
	}

	outcome, err := h.reconciliation.ProcessWebhook(ctx, cmd)
	if err != nil {
		writeReconciliationError(ctx, w, err)
		return
	}

	ack := webhookAckPayload{
		Applied: outcome.Applied,
		Note:    outcome.Note,
	}
	if outcome.Order.ID != "" {
		ack.OrderStatus = string(outcome.Order.Status)
	}
	writeJSONResponse(w, http.StatusOK, ack)
}
