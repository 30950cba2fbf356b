package market

import "github.com/shopspring/decimal"

var (
	defaultStep = decimal.New(1, -3)
	one         = decimal.NewFromInt(1)
)

// Filters are the quantization rules of one symbol.
type Filters struct {
	StepSize decimal.Decimal
	TickSize decimal.Decimal

	// HasPriceFilter is false when the exchange reported no PRICE_FILTER for the symbol.
	HasPriceFilter bool
}

// DefaultFilters is used for symbols missing from the exchange info.
func DefaultFilters() Filters {
	return Filters{StepSize: defaultStep}
}

func (f Filters) step() decimal.Decimal {
	if f.StepSize.Sign() <= 0 {
		return defaultStep
	}
	return f.StepSize
}

// RoundQty snaps qty down to a multiple of the lot step. The result is never below one step;
// for steps of one or more it is an integer of at least 1.
func (f Filters) RoundQty(qty decimal.Decimal) decimal.Decimal {
	step := f.step()
	if step.GreaterThanOrEqual(one) {
		return decimal.Max(one, qty.Truncate(0))
	}

	rounded := qty.Div(step).Floor().Mul(step)
	if rounded.Sign() <= 0 {
		return step
	}
	return rounded
}

// RoundPrice snaps price down to a multiple of the tick size. Symbols without a price filter
// round to 2 decimals, a zero tick leaves the price untouched.
func (f Filters) RoundPrice(price decimal.Decimal) decimal.Decimal {
	if !f.HasPriceFilter {
		return price.Round(2)
	}
	tick := f.TickSize
	switch {
	case tick.Sign() <= 0:
		return price
	case tick.GreaterThanOrEqual(one):
		return price.Truncate(0)
	}
	return price.Div(tick).Floor().Mul(tick)
}
