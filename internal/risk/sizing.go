package risk

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// StopType selects how a stop-loss value is read.
type StopType string

const (
	// StopPercent means the value is the adverse price move in percent.
	StopPercent StopType = "percent"
	// StopPrice means the value is an absolute stop price.
	StopPrice StopType = "price"
)

var (
	ErrInvalidEntry        = errors.New("invalid entry price")
	ErrInvalidStopDistance = errors.New("invalid stop-loss distance")
)

// Params are the account-wide risk settings.
type Params struct {
	MaxRiskPercent    float64 // share of unused margin risked per trade
	MaxLeverage       int     // exchange leverage cap
	LiquidationBuffer float64 // percent added to the stop distance for fees and liquidation slack
	NoStopLeverage    int     // leverage used when no stop is given
}

// DefaultParams mirrors Binance USDⓈ-M limits with a 1% risk budget.
func DefaultParams() Params {
	return Params{MaxRiskPercent: 1.0, MaxLeverage: 125, LiquidationBuffer: 0.2, NoStopLeverage: 10}
}

// Input is one sizing question.
type Input struct {
	AvailableMargin float64
	EntryPrice      float64
	StopType        StopType
	StopValue       float64
}

// Sizing is the suggested position for an Input.
type Sizing struct {
	SuggestedUnits    float64 `json:"suggested_units"`
	SuggestedLeverage int     `json:"suggested_leverage"`
	MaxLeverage       int     `json:"max_leverage"`
	RiskAmount        float64 `json:"risk_amount"`
	StopPercent       float64 `json:"stop_percent"`
	PositionValue     float64 `json:"position_value"`
}

// StopDistancePercent converts a stop specification into a percent distance from entry.
func StopDistancePercent(entry float64, t StopType, value float64) float64 {
	if t == StopPercent {
		return value
	}
	if entry <= 0 {
		return 0
	}
	return math.Abs(entry-value) / entry * 100
}

// Size turns a risk budget and stop distance into units and leverage. A stop value of zero
// falls back to NoStopLeverage and sizes the risk amount as notional.
func Size(in Input, p Params) (Sizing, error) {
	if in.EntryPrice <= 0 || math.IsNaN(in.EntryPrice) {
		return Sizing{}, ErrInvalidEntry
	}
	if in.StopValue < 0 {
		return Sizing{}, ErrInvalidStopDistance
	}

	margin := math.Max(in.AvailableMargin, 0)
	riskAmount := margin * (p.MaxRiskPercent / 100)

	var leverage int
	var positionValue, stopPercent float64
	if in.StopValue > 0 {
		stopPercent = StopDistancePercent(in.EntryPrice, in.StopType, in.StopValue)
		if stopPercent <= 0 {
			return Sizing{}, ErrInvalidStopDistance
		}

		divisor := stopPercent + p.LiquidationBuffer
		leverage = clampLeverage(int(math.Floor(100/divisor)), p.MaxLeverage)
		positionValue = (riskAmount / divisor) * 100
	} else {
		leverage = clampLeverage(p.NoStopLeverage, p.MaxLeverage)
		positionValue = riskAmount
	}

	return Sizing{
		SuggestedUnits:    decimal.NewFromFloat(positionValue / in.EntryPrice).Round(6).InexactFloat64(),
		SuggestedLeverage: leverage,
		MaxLeverage:       leverage,
		RiskAmount:    decimal.NewFromFloat(riskAmount).Round(2).InexactFloat64(),
		StopPercent:   stopPercent,
		PositionValue: decimal.NewFromFloat(positionValue).Round(2).InexactFloat64(),
	}, nil
}

func clampLeverage(lev, max int) int {
	if lev > max {
		lev = max
	}
	if lev < 1 {
		lev = 1
	}
	return lev
}
