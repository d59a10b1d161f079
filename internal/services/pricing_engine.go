package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/warungkita/api/internal/domain"
)

var (
	// ErrPricingInvalidInput signals bad request data such as missing lines or negative quantities.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingCurrencyMismatch is returned when a product is priced in a different currency than the order.
	ErrPricingCurrencyMismatch = errors.New("pricing: currency mismatch")
)

const taxBpsDenominator = 10_000

// RateCardPricingEngine prices orders with a flat rate card: a basis-point tax
// on the subtotal plus fixed delivery and admin fees. All amounts are integer
// minor units computed exclusively from server-side product data.
type RateCardPricingEngine struct {
	rates  domain.PricingRates
	logger func(context.Context, string, map[string]any)
	now    func() time.Time
}

type RateCardPricingEngineDeps struct {
	Rates  domain.PricingRates
	Logger func(context.Context, string, map[string]any)
	Now    func() time.Time
}

func NewRateCardPricingEngine(deps RateCardPricingEngineDeps) (*RateCardPricingEngine, error) {
	if deps.Rates.TaxBps < 0 {
		return nil, errors.New("pricing engine: tax bps must be >= 0")
	}
	if deps.Rates.DeliveryFee < 0 || deps.Rates.AdminFee < 0 {
		return nil, errors.New("pricing engine: fees must be >= 0")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &RateCardPricingEngine{
		rates:  deps.Rates,
		logger: logger,
		now: func() time.Time {
			return now().UTC()
		},
	}, nil
}

// Price computes the full breakdown for the supplied lines.
func (e *RateCardPricingEngine) Price(ctx context.Context, cmd PriceOrderCommand) (PricingBreakdown, error) {
	if e == nil {
		return PricingBreakdown{}, errors.New("pricing engine not initialised")
	}
	if len(cmd.Lines) == 0 {
		return PricingBreakdown{}, fmt.Errorf("%w: at least one line is required", ErrPricingInvalidInput)
	}
	currency := domain.Currency(strings.ToUpper(strings.TrimSpace(string(cmd.Currency))))
	if !domain.ValidCurrency(currency) {
		return PricingBreakdown{}, fmt.Errorf("%w: unsupported currency %q", ErrPricingInvalidInput, cmd.Currency)
	}

	items := make([]ItemPricingBreakdown, 0, len(cmd.Lines))
	var subtotal int64
	for _, line := range cmd.Lines {
		if line.Quantity < 1 {
			return PricingBreakdown{}, fmt.Errorf("%w: quantity for %s must be >= 1", ErrPricingInvalidInput, line.Product.ID)
		}
		if line.Product.Price < 0 {
			return PricingBreakdown{}, fmt.Errorf("%w: price for %s must be >= 0", ErrPricingInvalidInput, line.Product.ID)
		}
		if line.Product.Currency != currency {
			return PricingBreakdown{}, fmt.Errorf("%w: product %s is priced in %s", ErrPricingCurrencyMismatch, line.Product.ID, line.Product.Currency)
		}
		lineSubtotal := line.Product.Price * int64(line.Quantity)
		items = append(items, ItemPricingBreakdown{
			ProductID: line.Product.ID,
			Quantity:  line.Quantity,
			UnitPrice: line.Product.Price,
			Subtotal:  lineSubtotal,
		})
		subtotal += lineSubtotal
	}

	tax := roundedTax(subtotal, e.rates.TaxBps)
	total := subtotal + tax + e.rates.DeliveryFee + e.rates.AdminFee

	e.logger(ctx, "pricing.computed", map[string]any{
		"currency": string(currency),
		"lines":    len(items),
		"subtotal": subtotal,
		"total":    total,
	})

	return PricingBreakdown{
		Currency: currency,
		Subtotal: subtotal,
		Tax:      tax,
		Delivery: e.rates.DeliveryFee,
		AdminFee: e.rates.AdminFee,
		Total:    total,
		Items:    items,
	}, nil
}

// roundedTax applies the basis-point rate with half-up rounding in integer
// arithmetic, avoiding float drift on large subtotals.
func roundedTax(subtotal, taxBps int64) int64 {
	if subtotal <= 0 || taxBps <= 0 {
		return 0
	}
	return (subtotal*taxBps + taxBpsDenominator/2) / taxBpsDenominator
}
