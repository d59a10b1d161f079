package domain

// PricingRates carries the fee schedule applied to every checkout. Tax is
// expressed in basis points so totals stay in integer minor units.
type PricingRates struct {
	TaxBps      int64
	DeliveryFee int64
	AdminFee    int64
}

// PricingBreakdown captures the aggregated monetary results of pricing an
// order, with per-line detail for receipts.
type PricingBreakdown struct {
	Currency Currency
	Subtotal int64
	Tax      int64
	Delivery int64
	AdminFee int64
	Total    int64
	Items    []ItemPricingBreakdown
}

// ItemPricingBreakdown stores the per-line pricing outputs after running the engine.
type ItemPricingBreakdown struct {
	ProductID string
	Quantity  int
	UnitPrice int64
	Subtotal  int64
}
