package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/warungkita/api/internal/domain"
	"github.com/warungkita/api/internal/repositories"
)

const (
	orderIDPrefix      = "ord_"
	orderNumberPrefix  = "WK"
	orderCounterPrefix = "orders"

	maxCheckoutLines        = 50
	maxCheckoutLineQuantity = 1_000
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutProductNotFound indicates a requested product does not exist.
	ErrCheckoutProductNotFound = errors.New("checkout: product not found")
	// ErrCheckoutProductInactive indicates a requested product is not sellable.
	ErrCheckoutProductInactive = errors.New("checkout: product inactive")
	// ErrCheckoutInsufficientStock indicates stock could not be reserved for the requested lines.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutConflict indicates a concurrent modification prevented completing checkout.
	ErrCheckoutConflict = errors.New("checkout: conflict")
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Products repositories.ProductRepository
	Orders   repositories.OrderRepository
	Counters repositories.CounterRepository
	Pricing  PricingEngine
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	products repositories.ProductRepository
	orders   repositories.OrderRepository
	counters repositories.CounterRepository
	pricing  PricingEngine
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
	newID    func() string
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		products: deps.Products,
		orders:   deps.Orders,
		counters: deps.Counters,
		pricing:  deps.Pricing,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID: func() string {
			return ulid.Make().String()
		},
	}, nil
}

// Checkout validates the requested lines, prices them from canonical product
// data, decrements stock atomically, and persists the pending order. Stock is
// restored if the order cannot be persisted.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error) {
	if s == nil || s.products == nil || s.orders == nil {
		return Order{}, ErrCheckoutUnavailable
	}
	if err := validateCheckoutCommand(cmd); err != nil {
		return Order{}, err
	}

	priced, err := s.loadLines(ctx, cmd.Currency, cmd.Lines)
	if err != nil {
		return Order{}, err
	}

	breakdown, err := s.pricing.Price(ctx, PriceOrderCommand{Currency: cmd.Currency, Lines: priced})
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) || errors.Is(err, ErrPricingCurrencyMismatch) {
			return Order{}, fmt.Errorf("%w: %s", ErrCheckoutInvalidInput, err)
		}
		return Order{}, fmt.Errorf("checkout: pricing failed: %w", err)
	}

	stockLines := make([]repositories.StockLine, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		stockLines = append(stockLines, repositories.StockLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	if err := s.products.DecrementStock(ctx, stockLines); err != nil {
		return Order{}, translateCheckoutStockError(err)
	}

	now := s.now()
	orderNumber, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		s.restoreStock(ctx, stockLines, "checkout_numbering_failed")
		return Order{}, fmt.Errorf("checkout: order numbering failed: %w", err)
	}

	order := s.buildOrder(cmd, priced, breakdown, orderNumber, now)
	if err := s.orders.Insert(ctx, order); err != nil {
		s.restoreStock(ctx, stockLines, "checkout_persist_failed")
		return Order{}, translateCheckoutOrderError(err)
	}

	s.logger(ctx, "checkout.completed", map[string]any{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"currency":     string(order.Currency),
		"total":        order.Totals.Total,
		"lines":        len(order.Items),
	})

	return order, nil
}

// Quote prices the requested lines without reserving stock or creating an order.
func (s *checkoutService) Quote(ctx context.Context, cmd QuoteCommand) (PricingBreakdown, error) {
	if s == nil || s.products == nil {
		return PricingBreakdown{}, ErrCheckoutUnavailable
	}
	if err := validateCheckoutLines(cmd.Currency, cmd.Lines); err != nil {
		return PricingBreakdown{}, err
	}

	priced, err := s.loadLines(ctx, cmd.Currency, cmd.Lines)
	if err != nil {
		return PricingBreakdown{}, err
	}

	breakdown, err := s.pricing.Price(ctx, PriceOrderCommand{Currency: cmd.Currency, Lines: priced})
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) || errors.Is(err, ErrPricingCurrencyMismatch) {
			return PricingBreakdown{}, fmt.Errorf("%w: %s", ErrCheckoutInvalidInput, err)
		}
		return PricingBreakdown{}, fmt.Errorf("checkout: pricing failed: %w", err)
	}
	return breakdown, nil
}

func (s *checkoutService) loadLines(ctx context.Context, currency Currency, lines []CheckoutLine) ([]PricedLine, error) {
	priced := make([]PricedLine, 0, len(lines))
	for _, line := range lines {
		product, err := s.products.FindByID(ctx, line.ProductID)
		if err != nil {
			return nil, translateCheckoutStockError(err)
		}
		if !product.Active {
			return nil, fmt.Errorf("%w: %s", ErrCheckoutProductInactive, product.ID)
		}
		if product.Currency != currency {
			return nil, fmt.Errorf("%w: product %s priced in %s", ErrCheckoutInvalidInput, product.ID, product.Currency)
		}
		priced = append(priced, PricedLine{Product: product, Quantity: line.Quantity})
	}
	return priced, nil
}

func (s *checkoutService) buildOrder(cmd CheckoutCommand, priced []PricedLine, breakdown PricingBreakdown, orderNumber string, now time.Time) Order {
	items := make([]domain.OrderLineItem, 0, len(priced))
	for _, line := range priced {
		items = append(items, domain.OrderLineItem{
			ProductID: line.Product.ID,
			SKU:       line.Product.SKU,
			Name:      line.Product.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.Product.Price,
			Total:     line.Product.Price * int64(line.Quantity),
		})
	}

	var metadata map[string]any
	if cmd.Metadata != nil {
		metadata = maps.Clone(cmd.Metadata)
	}

	return Order{
		ID:              orderIDPrefix + s.newID(),
		OrderNumber:     orderNumber,
		UserID:          strings.TrimSpace(cmd.UserID),
		Status:          domain.OrderStatusPending,
		Currency:        cmd.Currency,
		Customer:        cmd.Customer,
		DeliveryAddress: cmd.DeliveryAddress,
		Items:           items,
		Totals: domain.OrderTotals{
			Subtotal:    breakdown.Subtotal,
			Tax:         breakdown.Tax,
			DeliveryFee: breakdown.Delivery,
			AdminFee:    breakdown.AdminFee,
			Total:       breakdown.Total,
		},
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// generateOrderNumber produces WK-YYYYMMDD-NNNN from a per-day counter.
func (s *checkoutService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	day := now.Format("20060102")
	seq, err := s.counters.Next(ctx, orderCounterPrefix+"-"+day, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%04d", orderNumberPrefix, day, seq), nil
}

func (s *checkoutService) restoreStock(ctx context.Context, lines []repositories.StockLine, reason string) {
	if err := s.products.RestoreStock(ctx, lines); err != nil {
		s.logger(ctx, "checkout.stock_restore_failed", map[string]any{
			"reason": reason,
			"error":  err.Error(),
		})
	}
}

func validateCheckoutCommand(cmd CheckoutCommand) error {
	if strings.TrimSpace(cmd.Customer.Name) == "" {
		return fmt.Errorf("%w: customer name is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(cmd.Customer.Email) == "" {
		return fmt.Errorf("%w: customer email is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(cmd.DeliveryAddress.Line1) == "" || strings.TrimSpace(cmd.DeliveryAddress.City) == "" {
		return fmt.Errorf("%w: delivery address is incomplete", ErrCheckoutInvalidInput)
	}
	return validateCheckoutLines(cmd.Currency, cmd.Lines)
}

func validateCheckoutLines(currency Currency, lines []CheckoutLine) error {
	if !domain.ValidCurrency(currency) {
		return fmt.Errorf("%w: unsupported currency %q", ErrCheckoutInvalidInput, currency)
	}
	if len(lines) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrCheckoutInvalidInput)
	}
	if len(lines) > maxCheckoutLines {
		return fmt.Errorf("%w: too many lines", ErrCheckoutInvalidInput)
	}
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return fmt.Errorf("%w: product id is required", ErrCheckoutInvalidInput)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate product %s", ErrCheckoutInvalidInput, id)
		}
		seen[id] = true
		if line.Quantity < 1 || line.Quantity > maxCheckoutLineQuantity {
			return fmt.Errorf("%w: quantity for %s must be between 1 and %d", ErrCheckoutInvalidInput, id, maxCheckoutLineQuantity)
		}
	}
	return nil
}

func translateCheckoutStockError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrCheckoutProductNotFound, stockErr.ProductID)
		case repositories.StockErrorProductInactive:
			return fmt.Errorf("%w: %s", ErrCheckoutProductInactive, stockErr.ProductID)
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrCheckoutInsufficientStock, stockErr.ProductID)
		}
	}
	return fmt.Errorf("checkout: stock operation failed: %w", err)
}

func translateCheckoutOrderError(err error) error {
	if errors.Is(err, repositories.ErrOrderStatusConflict) {
		return fmt.Errorf("%w: %s", ErrCheckoutConflict, err)
	}
	return fmt.Errorf("checkout: order persist failed: %w", err)
}
