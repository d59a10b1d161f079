package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/warungkita/api/internal/domain"
	"github.com/warungkita/api/internal/platform/httpx"
	"github.com/warungkita/api/internal/services"
)

const maxCheckoutBodySize = 64 * 1024

type checkoutItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type checkoutCustomerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type checkoutAddressRequest struct {
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	Province   string  `json:"province"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
}

type checkoutRequest struct {
	Currency        string                  `json:"currency"`
	Customer        checkoutCustomerRequest `json:"customer"`
	DeliveryAddress checkoutAddressRequest  `json:"delivery_address"`
	Items           []checkoutItemRequest   `json:"items"`
	Metadata        map[string]any          `json:"metadata"`
}

type quoteRequest struct {
	Currency string                `json:"currency"`
	Items    []checkoutItemRequest `json:"items"`
}

// OrderHandlers exposes the storefront checkout and order lookup endpoints.
type OrderHandlers struct {
	checkout services.CheckoutService
	orders   services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(checkout services.CheckoutService, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		checkout: checkout,
		orders:   orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Post("/quote", h.quoteOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/number/{orderNumber}", h.getOrderByNumber)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	req, ok := decodeCheckoutRequest(ctx, w, r)
	if !ok {
		return
	}

	cmd := services.CheckoutCommand{
		Currency: domain.Currency(strings.ToUpper(strings.TrimSpace(req.Currency))),
		Customer: services.Customer{
			Name:  strings.TrimSpace(req.Customer.Name),
			Email: strings.TrimSpace(req.Customer.Email),
			Phone: strings.TrimSpace(req.Customer.Phone),
		},
		DeliveryAddress: services.Address{
			Line1:      strings.TrimSpace(req.DeliveryAddress.Line1),
			Line2:      req.DeliveryAddress.Line2,
			City:       strings.TrimSpace(req.DeliveryAddress.City),
			Province:   strings.TrimSpace(req.DeliveryAddress.Province),
			PostalCode: strings.TrimSpace(req.DeliveryAddress.PostalCode),
			Country:    strings.TrimSpace(req.DeliveryAddress.Country),
		},
		Lines:    buildCheckoutLines(req.Items),
		Metadata: cloneMap(req.Metadata),
	}

	order, err := h.checkout.Checkout(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{
		Order: buildOrderPayload(order),
	})
}

func (h *OrderHandlers) quoteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req quoteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	breakdown, err := h.checkout.Quote(ctx, services.QuoteCommand{
		Currency: domain.Currency(strings.ToUpper(strings.TrimSpace(req.Currency))),
		Lines:    buildCheckoutLines(req.Items),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildPricingPayload(breakdown))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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

func (h *OrderHandlers) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	if orderNumber == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order number is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func decodeCheckoutRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (checkoutRequest, bool) {
	var req checkoutRequest
	body, err := readLimitedBody(r, maxCheckoutBodySize)
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

func buildCheckoutLines(items []checkoutItemRequest) []services.CheckoutLine {
	lines := make([]services.CheckoutLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, services.CheckoutLine{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}
	return lines
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	Total       int64  `json:"total"`
	CreatedAt   string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"order_number"`
	Status          string              `json:"status"`
	Currency        string              `json:"currency"`
	Customer        orderCustomerData   `json:"customer"`
	DeliveryAddress addressPayload      `json:"delivery_address"`
	Items           []orderItemPayload  `json:"items"`
	Totals          orderTotalsPayload  `json:"totals"`
	InvoiceID       string              `json:"invoice_id,omitempty"`
	InvoiceURL      string              `json:"invoice_url,omitempty"`
	Metadata        map[string]any      `json:"metadata,omitempty"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at,omitempty"`
	PaidAt          string              `json:"paid_at,omitempty"`
	ExpiredAt       string              `json:"expired_at,omitempty"`
	FailedAt        string              `json:"failed_at,omitempty"`
	RefundedAt      string              `json:"refunded_at,omitempty"`
}

type orderCustomerData struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type addressPayload struct {
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	Province   string  `json:"province"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
}

type orderTotalsPayload struct {
	Subtotal    int64 `json:"subtotal"`
	Tax         int64 `json:"tax"`
	DeliveryFee int64 `json:"delivery_fee"`
	AdminFee    int64 `json:"admin_fee"`
	Total       int64 `json:"total"`
}

type pricingItemPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Subtotal  int64  `json:"subtotal"`
}

type pricingPayload struct {
	Currency    string               `json:"currency"`
	Subtotal    int64                `json:"subtotal"`
	Tax         int64                `json:"tax"`
	DeliveryFee int64                `json:"delivery_fee"`
	AdminFee    int64                `json:"admin_fee"`
	Total       int64                `json:"total"`
	Items       []pricingItemPayload `json:"items"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		Status:      strings.TrimSpace(string(order.Status)),
		Currency:    strings.ToUpper(strings.TrimSpace(string(order.Currency))),
		Total:       order.Totals.Total,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		Status:      strings.TrimSpace(string(order.Status)),
		Currency:    strings.ToUpper(strings.TrimSpace(string(order.Currency))),
		Customer: orderCustomerData{
			Name:  strings.TrimSpace(order.Customer.Name),
			Email: strings.TrimSpace(order.Customer.Email),
			Phone: strings.TrimSpace(order.Customer.Phone),
		},
		DeliveryAddress: buildAddressPayload(order.DeliveryAddress),
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		Totals: orderTotalsPayload{
			Subtotal:    order.Totals.Subtotal,
			Tax:         order.Totals.Tax,
			DeliveryFee: order.Totals.DeliveryFee,
			AdminFee:    order.Totals.AdminFee,
			Total:       order.Totals.Total,
		},
		Metadata:   cloneMap(order.Metadata),
		CreatedAt:  formatTime(order.CreatedAt),
		UpdatedAt:  formatTime(order.UpdatedAt),
		PaidAt:     formatTime(pointerTime(order.PaidAt)),
		ExpiredAt:  formatTime(pointerTime(order.ExpiredAt)),
		FailedAt:   formatTime(pointerTime(order.FailedAt)),
		RefundedAt: formatTime(pointerTime(order.RefundedAt)),
	}

	if order.InvoiceID != nil {
		payload.InvoiceID = strings.TrimSpace(*order.InvoiceID)
	}
	if order.InvoiceURL != nil {
		payload.InvoiceURL = strings.TrimSpace(*order.InvoiceURL)
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: strings.TrimSpace(item.ProductID),
			SKU:       strings.TrimSpace(item.SKU),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		})
	}

	return payload
}

func buildAddressPayload(address services.Address) addressPayload {
	return addressPayload{
		Line1:      strings.TrimSpace(address.Line1),
		Line2:      address.Line2,
		City:       strings.TrimSpace(address.City),
		Province:   strings.TrimSpace(address.Province),
		PostalCode: strings.TrimSpace(address.PostalCode),
		Country:    strings.TrimSpace(address.Country),
	}
}

func buildPricingPayload(breakdown services.PricingBreakdown) pricingPayload {
	payload := pricingPayload{
		Currency:    strings.ToUpper(strings.TrimSpace(string(breakdown.Currency))),
		Subtotal:    breakdown.Subtotal,
		Tax:         breakdown.Tax,
		DeliveryFee: breakdown.Delivery,
		AdminFee:    breakdown.AdminFee,
		Total:       breakdown.Total,
		Items:       make([]pricingItemPayload, 0, len(breakdown.Items)),
	}
	for _, item := range breakdown.Items {
		payload.Items = append(payload.Items, pricingItemPayload{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		})
	}
	return payload
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutProductInactive):
		httpx.WriteError(ctx, w, httpx.NewError("product_inactive", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout", http.StatusInternalServerError))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order store temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
