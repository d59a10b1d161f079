package repositories

import (
	"context"
	"time"

	domain "github.com/warungkita/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	PaymentRequests() PaymentRequestRepository
	ReconciliationEvents() ReconciliationEventRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository persists catalog entries and owns conditional stock movements.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	// DecrementStock atomically reserves quantity for each line inside a
	// single transaction. No stock changes when any line has insufficient
	// availability.
	DecrementStock(ctx context.Context, lines []StockLine) error
	// RestoreStock returns previously decremented quantities, used as
	// compensation when checkout fails after reservation.
	RestoreStock(ctx context.Context, lines []StockLine) error
}

// StockLine identifies a product and the quantity to move.
type StockLine struct {
	ProductID string
	Quantity  int
}

// OrderRepository persists order headers and provides query helpers for buyers and operators.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	// UpdateStatus transitions the order only when its stored status matches
	// expected, preserving settled states under concurrent reports.
	UpdateStatus(ctx context.Context, orderID string, expected domain.OrderStatus, update OrderStatusUpdate) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderStatusUpdate carries the target status and settlement metadata applied in one write.
type OrderStatusUpdate struct {
	Status     domain.OrderStatus
	PaidAt     *time.Time
	ExpiredAt  *time.Time
	FailedAt   *time.Time
	RefundedAt *time.Time
	UpdatedAt  time.Time
}

// PaymentRequestRepository stores provider invoices keyed by their invoice id.
type PaymentRequestRepository interface {
	// Insert creates the request and fails with a conflict when a pending
	// request already exists for the same order.
	Insert(ctx context.Context, request domain.PaymentRequest) error
	Update(ctx context.Context, request domain.PaymentRequest) error
	FindByInvoiceID(ctx context.Context, invoiceID string) (domain.PaymentRequest, error)
	FindPendingByOrder(ctx context.Context, orderID string) (domain.PaymentRequest, error)
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.PaymentRequest, error)
}

// ReconciliationEventRepository appends and lists the audit ledger of provider reports.
type ReconciliationEventRepository interface {
	Append(ctx context.Context, event domain.ReconciliationEvent) error
	ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.ReconciliationEvent], error)
	ListByInvoice(ctx context.Context, invoiceID string, pager domain.Pagination) (domain.CursorPage[domain.ReconciliationEvent], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	ActiveOnly bool
	Currency   *domain.Currency
	Pagination domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
