package market

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRoundQty(t *testing.T) {
	testCases := []struct {
		name     string
		step     string
		qty      string
		expected string
	}{
		{"Snaps down to step", "0.001", "0.12345", "0.123"},
		{"Exact multiple unchanged", "0.001", "0.123", "0.123"},
		{"Below one step returns one step", "0.001", "0.0004", "0.001"},
		{"Zero returns one step", "0.01", "0", "0.01"},
		{"Coarse fractional step", "0.5", "7.9", "7.5"},
		{"Integer step truncates", "1", "12.9", "12"},
		{"Integer step floor is one", "10", "0.4", "1"},
		{"Zero step falls back to default", "0", "1.23456", "1.234"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := Filters{StepSize: d(tc.step)}
			got := f.RoundQty(d(tc.qty))
			assert.True(t, d(tc.expected).Equal(got), "expected %s, got %s", tc.expected, got)
		})
	}
}

func TestRoundPrice(t *testing.T) {
	testCases := []struct {
		name     string
		filters  Filters
		price    string
		expected string
	}{
		{"Snaps down to tick", Filters{TickSize: d("0.1"), HasPriceFilter: true}, "50123.47", "50123.4"},
		{"Fine tick", Filters{TickSize: d("0.0001"), HasPriceFilter: true}, "1.234567", "1.2345"},
		{"Integer tick truncates", Filters{TickSize: d("1"), HasPriceFilter: true}, "99.99", "99"},
		{"Zero tick leaves price", Filters{TickSize: decimal.Zero, HasPriceFilter: true}, "1.23456", "1.23456"},
		{"No price filter rounds to cents", DefaultFilters(), "1.23456", "1.23"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.filters.RoundPrice(d(tc.price))
			assert.True(t, d(tc.expected).Equal(got), "expected %s, got %s", tc.expected, got)
		})
	}
}

func TestRounding_Idempotent(t *testing.T) {
	filters := []Filters{
		DefaultFilters(),
		{StepSize: d("0.1"), TickSize: d("0.01"), HasPriceFilter: true},
		{StepSize: d("1"), TickSize: d("5"), HasPriceFilter: true},
		{StepSize: d("0.00001"), TickSize: d("0.0000001"), HasPriceFilter: true},
	}
	values := []string{"0", "0.0000003", "0.12345", "1", "3.33333333", "97.5", "50123.456789"}

	for _, f := range filters {
		for _, v := range values {
			q := f.RoundQty(d(v))
			assert.True(t, q.Equal(f.RoundQty(q)), "qty %s with step %s", v, f.StepSize)

			p := f.RoundPrice(d(v))
			assert.True(t, p.Equal(f.RoundPrice(p)), "price %s with tick %s", v, f.TickSize)
		}
	}
}
