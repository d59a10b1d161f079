package services

import (
	"context"
	"time"

	domain "github.com/warungkita/api/internal/domain"
	"github.com/warungkita/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	SortOrder            = domain.SortOrder
	Currency             = domain.Currency
	Product              = domain.Product
	Order                = domain.Order
	OrderStatus          = domain.OrderStatus
	OrderTotals          = domain.OrderTotals
	OrderLineItem        = domain.OrderLineItem
	Customer             = domain.Customer
	Address              = domain.Address
	PaymentRequest       = domain.PaymentRequest
	PaymentStatus        = domain.PaymentStatus
	ReconciliationSource = domain.ReconciliationSource
	ReconciliationEvent  = domain.ReconciliationEvent
	PricingBreakdown     = domain.PricingBreakdown
	ItemPricingBreakdown = domain.ItemPricingBreakdown
	PricingRates         = domain.PricingRates
	SystemHealthReport   = domain.SystemHealthReport
)

// CheckoutService validates carts, prices them server-side, reserves stock,
// and creates orders.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error)
	Quote(ctx context.Context, cmd QuoteCommand) (PricingBreakdown, error)
}

// InvoiceService issues hosted invoices for payable orders.
type InvoiceService interface {
	CreateInvoice(ctx context.Context, cmd CreateInvoiceCommand) (InvoiceDetails, error)
}

// ReconciliationService is the single authority for payment status
// transitions. Webhook ingestion and provider polling converge here.
type ReconciliationService interface {
	ProcessWebhook(ctx context.Context, cmd WebhookCommand) (ReconciliationOutcome, error)
	// PollOrderStatus fetches the provider's current view for the order's
	// active invoice and applies it through the same idempotent transition
	// as webhooks.
	PollOrderStatus(ctx context.Context, orderID string) (PaymentStatusView, error)
	// PollPending sweeps pending payment requests, used by the background
	// poller as the webhook fallback.
	PollPending(ctx context.Context) (PollSummary, error)
	ListEvents(ctx context.Context, filter ReconciliationEventFilter) (domain.CursorPage[ReconciliationEvent], error)
}

// OrderService encapsulates order read flows and operator fulfillment transitions.
type OrderService interface {
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error)
	// TransitionFulfillment moves a paid order through shipped/delivered.
	TransitionFulfillment(ctx context.Context, cmd OrderFulfillmentCommand) (Order, error)
}

// ProductService manages the catalog entries checkout prices against.
type ProductService interface {
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
}

// PricingEngine computes server-side order totals from canonical product data.
type PricingEngine interface {
	Price(ctx context.Context, cmd PriceOrderCommand) (PricingBreakdown, error)
}

// Notifier triggers fire-and-forget side effects after state transitions
// commit. Failures are logged and never roll back or block the transition.
type Notifier interface {
	NotifyCheckout(ctx context.Context, order Order)
	NotifyPaymentSuccess(ctx context.Context, order Order)
}

// OrderEventPublisher accepts order lifecycle events for downstream delivery.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, msg OrderEventMessage) (string, error)
}

// SystemService aggregates utility endpoints (health checks, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// ErrorTranslator converts repository or platform errors into domain-aware sentinel errors.
type ErrorTranslator interface {
	Translate(err error) error
}

// DomainError represents a structured error with stable codes for transport across layers.
type DomainError interface {
	error
	Code() string
	SafeMessage() string
}

// Command and DTO definitions ------------------------------------------------

// CheckoutLine is one requested cart row. Prices are never accepted from the
// client; only the product reference and quantity are.
type CheckoutLine struct {
	ProductID string
	Quantity  int
}

type CheckoutCommand struct {
	UserID          string
	Currency        Currency
	Customer        Customer
	DeliveryAddress Address
	Lines           []CheckoutLine
	Metadata        map[string]any
}

type QuoteCommand struct {
	Currency Currency
	Lines    []CheckoutLine
}

type CreateInvoiceCommand struct {
	OrderID           string
	ActorID           string
	PreferredProvider string
}

// InvoiceDetails is the client-facing result of invoice issuance.
type InvoiceDetails struct {
	OrderID    string
	InvoiceID  string
	Provider   string
	Status     PaymentStatus
	Amount     int64
	Currency   Currency
	PaymentURL string
	ExpiresAt  *time.Time
}

// WebhookCommand carries one provider callback after boundary authentication.
type WebhookCommand struct {
	Provider string
	// InvoiceID is the provider invoice the event refers to.
	InvoiceID string
	// ExternalID is the order number the provider echoes back.
	ExternalID string
	// RawStatus is the provider's status string before normalisation.
	RawStatus string
	PaidAt    *time.Time
	Raw       map[string]any
}

// ReconciliationOutcome reports how a provider status report was handled.
type ReconciliationOutcome struct {
	// Applied is false when the report was an idempotent no-op.
	Applied bool
	Note    string
	Order   Order
	Request PaymentRequest
}

// PaymentStatusView is the poll endpoint response.
type PaymentStatusView struct {
	OrderID     string
	OrderNumber string
	InvoiceID   string
	Status      PaymentStatus
	Amount      int64
	Currency    Currency
	PaymentURL  string
	ExpiresAt   *time.Time
	PaidAt      *time.Time
}

// PollSummary reports one sweep of the background poller.
type PollSummary struct {
	Scanned int
	Applied int
	Failed  int
}

type ReconciliationEventFilter struct {
	OrderID    string
	InvoiceID  string
	Pagination Pagination
}

type OrderListFilter = repositories.OrderListFilter

type OrderFulfillmentCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	ActorID      string
	Reason       string
}

type ProductListFilter = repositories.ProductListFilter

type UpsertProductCommand struct {
	Product Product
	ActorID string
}

type PriceOrderCommand struct {
	Currency Currency
	Lines    []PricedLine
}

// PricedLine is a checkout line joined with its server-side product snapshot.
type PricedLine struct {
	Product  Product
	Quantity int
}

type CounterCommand struct {
	CounterID string
	Step      int64
}

// OrderEventMessage is the payload published to the order-events topic.
type OrderEventMessage struct {
	Type        string
	OrderID     string
	OrderNumber string
	Status      string
	Source      string
	OccurredAt  time.Time
}
