package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/warungkita/api/internal/domain"
	"github.com/warungkita/api/internal/platform/auth"
	"github.com/warungkita/api/internal/platform/httpx"
	"github.com/warungkita/api/internal/services"
)

const (
	adminRole              = "admin"
	maxAdminBodySize       = 32 * 1024
	maxReconHistoryResults = 200
)

var operatorOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusShipped:   {},
	domain.OrderStatusDelivered: {},
	domain.OrderStatusRefunded:  {},
}

var filterableOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:   {},
	domain.OrderStatusPaid:      {},
	domain.OrderStatusFailed:    {},
	domain.OrderStatusExpired:   {},
	domain.OrderStatusRefunded:  {},
	domain.OrderStatusShipped:   {},
	domain.OrderStatusDelivered: {},
}

type orderStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type upsertProductRequest struct {
	SKU         string         `json:"sku"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Currency    string         `json:"currency"`
	Price       int64          `json:"price"`
	Stock       int            `json:"stock"`
	Active      *bool          `json:"active"`
	Metadata    map[string]any `json:"metadata"`
}

// AdminHandlers exposes the operator surface: order oversight, fulfillment
// transitions, catalog management, and the reconciliation audit trail.
type AdminHandlers struct {
	authn          *auth.Authenticator
	orders         services.OrderService
	products       services.ProductService
	reconciliation services.ReconciliationService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, products services.ProductService, reconciliation services.ReconciliationService) *AdminHandlers {
	return &AdminHandlers{
		authn:          authn,
		orders:         orders,
		products:       products,
		reconciliation: reconciliation,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(adminRole))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}/status", h.transitionOrder)
	r.Get("/orders/{orderID}/reconciliation", h.listReconciliation)
	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Get("/products/{productID}", h.getProduct)
	r.Put("/products/{productID}", h.updateProduct)
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	var statuses []domain.OrderStatus
	for _, raw := range parseFilterValues(query["status"]) {
		status := domain.OrderStatus(raw)
		if _, ok := filterableOrderStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status filter contains an unknown order status", http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pageSize, err := parsePageSize(query.Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		UserID:    strings.TrimSpace(query.Get("user_id")),
		Status:    statuses,
		DateRange: dateRange,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req orderStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if _, ok := operatorOrderStatuses[target]; !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be one of shipped, delivered, refunded", http.StatusBadRequest))
		return
	}

	cmd := services.OrderFulfillmentCommand{
		OrderID:      orderID,
		TargetStatus: target,
		ActorID:      identityUID(ctx),
		Reason:       strings.TrimSpace(req.Reason),
	}

	order, err := h.orders.TransitionFulfillment(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) listReconciliation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciliation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("reconciliation_unavailable", "reconciliation service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	pageSize, err := parsePageSize(r.URL.Query().Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if pageSize > maxReconHistoryResults {
		pageSize = maxReconHistoryResults
	}

	page, err := h.reconciliation.ListEvents(ctx, services.ReconciliationEventFilter{
		OrderID: orderID,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(r.URL.Query().Get("page_token")),
		},
	})
	if err != nil {
		writeReconciliationError(ctx, w, err)
		return
	}

	items := make([]reconciliationEventPayload, 0, len(page.Items))
	for _, event := range page.Items {
		items = append(items, buildReconciliationEventPayload(event))
	}
	writeJSONResponse(w, http.StatusOK, reconciliationEventListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	pageSize, err := parsePageSize(r.URL.Query().Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.products.ListProducts(ctx, services.ProductListFilter{
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(r.URL.Query().Get("page_token")),
		},
	})
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	req, ok := decodeProductRequest(ctx, w, r)
	if !ok {
		return
	}

	product, err := h.products.CreateProduct(ctx, services.UpsertProductCommand{
		Product: buildProductFromRequest("", req),
		ActorID: identityUID(ctx),
	})
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.products.GetProduct(ctx, productID)
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	req, ok := decodeProductRequest(ctx, w, r)
	if !ok {
		return
	}

	product, err := h.products.UpdateProduct(ctx, services.UpsertProductCommand{
		Product: buildProductFromRequest(productID, req),
		ActorID: identityUID(ctx),
	})
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func decodeProductRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (upsertProductRequest, bool) {
	var req upsertProductRequest
	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return req, false
	}
	return req, true
}

func buildProductFromRequest(productID string, req upsertProductRequest) services.Product {
	product := services.Product{
		ID:          productID,
		SKU:         strings.TrimSpace(req.SKU),
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Currency:    domain.Currency(strings.ToUpper(strings.TrimSpace(req.Currency))),
		Price:       req.Price,
		Stock:       req.Stock,
		Active:      true,
		Metadata:    cloneMap(req.Metadata),
	}
	if req.Active != nil {
		product.Active = *req.Active
	}
	return product
}

func identityUID(ctx context.Context) string {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return ""
	}
	return strings.TrimSpace(identity.UID)
}

type reconciliationEventListResponse struct {
	Items         []reconciliationEventPayload `json:"items"`
	NextPageToken string                       `json:"next_page_token,omitempty"`
}

type reconciliationEventPayload struct {
	ID             string         `json:"id"`
	InvoiceID      string         `json:"invoice_id"`
	OrderID        string         `json:"order_id"`
	ReportedStatus string         `json:"reported_status"`
	Source         string         `json:"source"`
	Applied        bool           `json:"applied"`
	Note           string         `json:"note,omitempty"`
	Raw            map[string]any `json:"raw,omitempty"`
	ReceivedAt     string         `json:"received_at"`
}

func buildReconciliationEventPayload(event services.ReconciliationEvent) reconciliationEventPayload {
	return reconciliationEventPayload{
		ID:             event.ID,
		InvoiceID:      event.InvoiceID,
		OrderID:        event.OrderID,
		ReportedStatus: string(event.ReportedStatus),
		Source:         string(event.Source),
		Applied:        event.Applied,
		Note:           event.Note,
		Raw:            cloneMap(event.Raw),
		ReceivedAt:     formatTime(event.ReceivedAt),
	}
}
