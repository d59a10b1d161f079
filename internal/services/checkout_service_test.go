package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/warungkita/api/internal/domain"
	"github.com/warungkita/api/internal/repositories"
)

func testCheckoutCommand() CheckoutCommand {
	return CheckoutCommand{
		UserID:   "user-1",
		Currency: domain.CurrencyIDR,
		Customer: domain.Customer{Name: "Sari Dewi", Email: "sari@example.com"},
		DeliveryAddress: domain.Address{
			Line1:      "Jl. Sudirman 1",
			City:       "Jakarta",
			Province:   "DKI Jakarta",
			PostalCode: "10110",
			Country:    "ID",
		},
		Lines: []CheckoutLine{{ProductID: "prd_1", Quantity: 2}},
	}
}

func testProduct() domain.Product {
	return domain.Product{
		ID:       "prd_1",
		SKU:      "KOPI-250",
		Name:     "Kopi Gayo 250g",
		Currency: domain.CurrencyIDR,
		Price:    10_000,
		Stock:    10,
		Active:   true,
	}
}

func testPricingEngine(t *testing.T) PricingEngine {
	t.Helper()
	engine, err := NewRateCardPricingEngine(RateCardPricingEngineDeps{
		Rates: domain.PricingRates{TaxBps: 1100, DeliveryFee: 15_000, AdminFee: 5_000},
	})
	if err != nil {
		t.Fatalf("NewRateCardPricingEngine: %v", err)
	}
	return engine
}

func TestCheckoutCreatesPendingOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 6, 10, 0, 0, 0, time.UTC)

	var decremented []repositories.StockLine
	products := &stubProductRepository{
		findFunc: func(_ context.Context, id string) (domain.Product, error) {
			return testProduct(), nil
		},
		decrementStockFunc: func(_ context.Context, lines []repositories.StockLine) error {
			decremented = lines
			return nil
		},
	}
	var inserted domain.Order
	orders := &stubOrderRepository{
		insertFunc: func(_ context.Context, order domain.Order) error {
			inserted = order
			return nil
		},
	}
	counters := &stubCounterRepository{
		nextFunc: func(_ context.Context, counterID string, step int64) (int64, error) {
			if counterID != "orders-20250506" {
				t.Fatalf("unexpected counter id %q", counterID)
			}
			return 1, nil
		},
	}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Products: products,
		Orders:   orders,
		Counters: counters,
		Pricing:  testPricingEngine(t),
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	order, err := svc.Checkout(ctx, testCheckoutCommand())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", order.Status)
	}
	if order.OrderNumber != "WK-20250506-0001" {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	if order.Totals.Subtotal != 20_000 {
		t.Fatalf("expected subtotal 20000, got %d", order.Totals.Subtotal)
	}
	if order.Totals.Tax != 2_200 {
		t.Fatalf("expected tax 2200, got %d", order.Totals.Tax)
	}
	if order.Totals.Total != 42_200 {
		t.Fatalf("expected total 42200, got %d", order.Totals.Total)
	}
	if len(decremented) != 1 || decremented[0].Quantity != 2 {
		t.Fatalf("unexpected stock decrement %#v", decremented)
	}
	if inserted.ID == "" || inserted.ID != order.ID {
		t.Fatalf("order was not persisted before returning")
	}
	if len(inserted.Items) != 1 || inserted.Items[0].Total != 20_000 {
		t.Fatalf("unexpected line items %#v", inserted.Items)
	}
}

func TestCheckoutInsufficientStock(t *testing.T) {
	products := &stubProductRepository{
		findFunc: func(_ context.Context, id string) (domain.Product, error) {
			return testProduct(), nil
		},
		decrementStockFunc: func(_ context.Context, _ []repositories.StockLine) error {
			return repositories.NewStockError(repositories.StockErrorInsufficient, "prd_1", "", nil)
		},
	}

	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Products: products,
		Orders:   &stubOrderRepository{},
		Counters: &stubCounterRepository{},
		Pricing:  testPricingEngine(t),
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	_, err = svc.Checkout(context.Background(), testCheckoutCommand())
	if !errors.Is(err, ErrCheckoutInsufficientStock) {
		t.Fatalf("expected ErrCheckoutInsufficientStock, got %v", err)
	}
}

func TestCheckoutRestoresStockWhenPersistFails(t *testing.T) {
	restored := false
	products := &stubProductRepository{
		findFunc: func(_ context.Context, id string) (domain.Product, error) {
			return testProduct(), nil
		},
		decrementStockFunc: func(_ context.Context, _ []repositories.StockLine) error {
			return nil
		},
		restoreStockFunc: func(_ context.Context, lines []repositories.StockLine) error {
			restored = true
			if len(lines) != 1 || lines[0].ProductID != "prd_1" {
				t.Fatalf("unexpected restore lines %#v", lines)
			}
			return nil
		},
	}
	orders := &stubOrderRepository{
		insertFunc: func(_ context.Context, _ domain.Order) error {
			return errors.New("firestore unavailable")
		},
	}
	counters := &stubCounterRepository{
		nextFunc: func(_ context.Context, _ string, _ int64) (int64, error) { return 7, nil },
	}

	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Products: products,
		Orders:   orders,
		Counters: counters,
		Pricing:  testPricingEngine(t),
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	if _, err := svc.Checkout(context.Background(), testCheckoutCommand()); err == nil {
		t.Fatal("expected error when persist fails")
	}
	if !restored {
		t.Fatal("expected stock restoration after persist failure")
	}
}

func TestCheckoutRejectsInvalidInput(t *testing.T) {
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Products: &stubProductRepository{},
		Orders:   &stubOrderRepository{},
		Counters: &stubCounterRepository{},
		Pricing:  testPricingEngine(t),
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	cases := map[string]func(*CheckoutCommand){
		"no lines":          func(cmd *CheckoutCommand) { cmd.Lines = nil },
		"zero quantity":     func(cmd *CheckoutCommand) { cmd.Lines[0].Quantity = 0 },
		"missing product":   func(cmd *CheckoutCommand) { cmd.Lines[0].ProductID = " " },
		"bad currency":      func(cmd *CheckoutCommand) { cmd.Currency = "XYZ" },
		"missing customer":  func(cmd *CheckoutCommand) { cmd.Customer.Name = "" },
		"missing address":   func(cmd *CheckoutCommand) { cmd.DeliveryAddress.Line1 = "" },
		"duplicate product": func(cmd *CheckoutCommand) { cmd.Lines = append(cmd.Lines, cmd.Lines[0]) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cmd := testCheckoutCommand()
			mutate(&cmd)
			if _, err := svc.Checkout(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
			}
		})
	}
}

func TestCheckoutRejectsInactiveProduct(t *testing.T) {
	products := &stubProductRepository{
		findFunc: func(_ context.Context, id string) (domain.Product, error) {
			product := testProduct()
			product.Active = false
			return product, nil
		},
	}

	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Products: products,
		Orders:   &stubOrderRepository{},
		Counters: &stubCounterRepository{},
		Pricing:  testPricingEngine(t),
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	if _, err := svc.Checkout(context.Background(), testCheckoutCommand()); !errors.Is(err, ErrCheckoutProductInactive) {
		t.Fatalf("expected ErrCheckoutProductInactive, got %v", err)
	}
}

func TestQuoteDoesNotTouchStock(t *testing.T) {
	products := &stubProductRepository{
		findFunc: func(_ context.Context, id string) (domain.Product, error) {
			return testProduct(), nil
		},
	}

	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Products: products,
		Orders:   &stubOrderRepository{},
		Counters: &stubCounterRepository{},
		Pricing:  testPricingEngine(t),
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	breakdown, err := svc.Quote(context.Background(), QuoteCommand{
		Currency: domain.CurrencyIDR,
		Lines:    []CheckoutLine{{ProductID: "prd_1", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if breakdown.Total != 42_200 {
		t.Fatalf("expected total 42200, got %d", breakdown.Total)
	}
}
