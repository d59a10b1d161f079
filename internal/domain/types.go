package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Currency enumerates the ISO currency codes the platform sells in.
type Currency string

const (
	// CurrencyIDR is Indonesian rupiah, the default settlement currency.
	CurrencyIDR Currency = "IDR"
	// CurrencyUSD is United States dollar.
	CurrencyUSD Currency = "USD"
	// CurrencySGD is Singapore dollar.
	CurrencySGD Currency = "SGD"
)

// SupportedCurrencies lists every currency orders may be priced in.
var SupportedCurrencies = []Currency{CurrencyIDR, CurrencyUSD, CurrencySGD}

// ValidCurrency reports whether c is one of the supported currencies.
func ValidCurrency(c Currency) bool {
	for _, s := range SupportedCurrencies {
		if c == s {
			return true
		}
	}
	return false
}

// Product is a sellable catalog entry with live stock tracked alongside it.
type Product struct {
	ID          string
	SKU         string
	Name        string
	Description string
	Currency    Currency
	// Price is the unit price in the smallest currency unit.
	Price     int64
	Stock     int
	Active    bool
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment completion.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment succeeded and fulfilment can begin.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFailed indicates the payment attempt failed.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusExpired indicates the payment window lapsed without payment.
	OrderStatusExpired OrderStatus = "expired"
	// OrderStatusRefunded indicates a paid order was refunded.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
)

// TerminalPaymentOrderStatuses are the order states reachable from pending
// through payment settlement. Once an order leaves pending via one of these,
// later payment reports must not move it back.
var TerminalPaymentOrderStatuses = []OrderStatus{
	OrderStatusPaid,
	OrderStatusFailed,
	OrderStatusExpired,
}

// Customer is the buyer snapshot embedded on each order.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// Address represents the delivery address captured at checkout.
type Address struct {
	Line1      string
	Line2      *string
	City       string
	Province   string
	PostalCode string
	Country    string
}

// OrderLineItem mirrors product data at the time of checkout.
type OrderLineItem struct {
	ProductID string
	SKU       string
	Name      string
	Quantity  int
	UnitPrice int64
	Total     int64
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal    int64
	Tax         int64
	DeliveryFee int64
	AdminFee    int64
	Total       int64
}

// Order captures order headers returned to handlers/services.
type Order struct {
	ID string
	// OrderNumber is the human-facing reference also sent to the payment
	// provider as the external id.
	OrderNumber     string
	UserID          string
	Status          OrderStatus
	Currency        Currency
	Customer        Customer
	DeliveryAddress Address
	Items           []OrderLineItem
	Totals          OrderTotals
	// InvoiceID references the active payment request, when one exists.
	InvoiceID  *string
	InvoiceURL *string
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
	PaidAt     *time.Time
	ExpiredAt  *time.Time
	FailedAt   *time.Time
	RefundedAt *time.Time
}

// Payable reports whether a payment request may still be created or settled
// against the order.
func (o Order) Payable() bool {
	return o.Status == OrderStatusPending
}

// PaymentStatus enumerates provider-reported states for a payment request.
type PaymentStatus string

const (
	// PaymentStatusPending indicates the invoice is issued and unpaid.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusSuccess indicates the invoice was paid.
	PaymentStatusSuccess PaymentStatus = "success"
	// PaymentStatusFailed indicates the payment attempt failed.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusExpired indicates the invoice lapsed unpaid.
	PaymentStatusExpired PaymentStatus = "expired"
	// PaymentStatusRefunded indicates a settled payment was returned.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Terminal reports whether s is a settled state that later provider reports
// must never overwrite.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusExpired, PaymentStatusRefunded:
		return true
	}
	return false
}

// PaymentRequest tracks a single provider invoice issued for an order. The
// document id is the provider invoice id so webhook and poll lookups are a
// direct get.
type PaymentRequest struct {
	// InvoiceID is the provider-issued invoice identifier.
	InvoiceID string
	OrderID   string
	// ExternalID is the order number echoed back by the provider.
	ExternalID string
	Provider   string
	Status     PaymentStatus
	Amount     int64
	Currency   Currency
	InvoiceURL string
	// Raw holds the last provider payload applied to this request.
	Raw       map[string]any
	ExpiresAt *time.Time
	PaidAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReconciliationSource identifies which convergence path reported a status.
type ReconciliationSource string

const (
	// SourceWebhook marks statuses pushed by the provider callback.
	SourceWebhook ReconciliationSource = "webhook"
	// SourcePoll marks statuses fetched by the background poller.
	SourcePoll ReconciliationSource = "poll"
)

// ReconciliationEvent is an append-only ledger entry recording every provider
// status report, whether or not it changed state.
type ReconciliationEvent struct {
	ID             string
	InvoiceID      string
	OrderID        string
	ReportedStatus PaymentStatus
	Source         ReconciliationSource
	// Applied is false when the report was a no-op (duplicate, out of order,
	// or against an already settled request).
	Applied    bool
	Note       string
	Raw        map[string]any
	ReceivedAt time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
