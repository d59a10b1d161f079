package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warungkita/api/internal/platform/httpx"
	"github.com/warungkita/api/internal/services"
)

type counterRequest struct {
	Step int64 `json:"step"`
}

type counterResponse struct {
	CounterID string `json:"counter_id"`
	Value     int64  `json:"value"`
}

type sweepResponse struct {
	Scanned int `json:"scanned"`
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

// InternalHandlers serves operational endpoints reachable only through the
// internal route group (deployment-level access control applies there).
type InternalHandlers struct {
	system         services.SystemService
	reconciliation services.ReconciliationService
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(system services.SystemService, reconciliation services.ReconciliationService) *InternalHandlers {
	return &InternalHandlers{
		system:         system,
		reconciliation: reconciliation,
	}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/counters/{counterID}/next", h.nextCounter)
	r.Post("/reconciliation/sweep", h.sweep)
}

func (h *InternalHandlers) nextCounter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("system_service_unavailable", "system service unavailable", http.StatusServiceUnavailable))
		return
	}

	counterID := strings.TrimSpace(chi.URLParam(r, "counterID"))
	if counterID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "counter id is required", http.StatusBadRequest))
		return
	}

	var req counterRequest
	if r.Body != nil {
		// Body is optional; step defaults to 1 in the service.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	value, err := h.system.NextCounterValue(ctx, services.CounterCommand{
		CounterID: counterID,
		Step:      req.Step,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("counter_error", err.Error(), http.StatusBadRequest))
		return
	}

	writeJSONResponse(w, http.StatusOK, counterResponse{CounterID: counterID, Value: value})
}

func (h *InternalHandlers) sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciliation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("reconciliation_unavailable", "reconciliation service unavailable", http.StatusServiceUnavailable))
		return
	}

	summary, err := h.reconciliation.PollPending(ctx)
	if err != nil {
		writeReconciliationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, sweepResponse{
		Scanned: summary.Scanned,
		Applied: summary.Applied,
		Failed:  summary.Failed,
	})
}
