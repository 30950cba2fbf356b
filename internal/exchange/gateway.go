package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"

	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeStop             OrderType = "STOP"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"

	MarginIsolated MarginMode = "ISOLATED"
	MarginCrossed  MarginMode = "CROSSED"

	StatusTrading = "TRADING"
)

type (
	Side       string
	OrderType  string
	MarginMode string
)

// Opposite returns the side that reduces a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// IsStop reports whether orders of this type act as a stop-loss.
func (t OrderType) IsStop() bool {
	return t == OrderTypeStopMarket || t == OrderTypeStop
}

// Gateway is the exchange capability consumed by the engine. Every call may fail with
// ErrUnavailable, a *RejectedError or a transport error.
type Gateway interface {
	Account(ctx context.Context) (Account, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
	ExchangeInfo(ctx context.Context) ([]SymbolInfo, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol string, mode MarginMode) error

	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CancelAllOrders(ctx context.Context, symbol string) error

	// Positions returns position risk rows; an empty symbol lists every symbol.
	Positions(ctx context.Context, symbol string) ([]PositionRisk, error)
	// AccountTrades returns the most recent fills; an empty symbol lists every symbol.
	AccountTrades(ctx context.Context, symbol string, limit int) ([]Trade, error)
}

// Account is the futures wallet summary.
type Account struct {
	WalletBalance    float64
	UsedMargin       float64
	AvailableBalance float64
}

// Unutilized is the margin not locked by open positions, never negative.
func (a Account) Unutilized() float64 {
	if free := a.WalletBalance - a.UsedMargin; free > 0 {
		return free
	}
	return 0
}

// SymbolInfo carries the trading status and quantization filters of one contract.
type SymbolInfo struct {
	Symbol     string
	Status     string
	QuoteAsset string
	StepSize   decimal.Decimal
	TickSize   decimal.Decimal

	// HasPriceFilter is false when the symbol carries no PRICE_FILTER.
	HasPriceFilter bool
}

// OrderRequest describes one order leg. Quantity and StopPrice must already be quantized.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal
	StopPrice     decimal.Decimal
	ClosePosition bool
	ReduceOnly    bool
	ClientOrderID string
}

// Order is an order as reported by the exchange.
type Order struct {
	OrderID       int64     `json:"order_id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Type          OrderType `json:"type"`
	Status        string    `json:"status"`
	Price         float64   `json:"price"`
	StopPrice     float64   `json:"stop_price"`
	OrigQty       float64   `json:"orig_qty"`
	AvgPrice      float64   `json:"avg_price,omitempty"`
	ClosePosition bool      `json:"close_position"`
	ReduceOnly    bool      `json:"reduce_only"`
}

// TriggerPrice is the stop price for conditional orders and the limit price otherwise.
func (o Order) TriggerPrice() float64 {
	if o.StopPrice > 0 {
		return o.StopPrice
	}
	return o.Price
}

// PositionRisk is one row of the exchange's position report. PositionAmt is signed.
type PositionRisk struct {
	Symbol           string
	PositionAmt      float64
	EntryPrice       float64
	MarkPrice        float64
	UnrealizedPnL    float64
	LiquidationPrice float64
	Notional         float64
	Leverage         int
	MarginType       string
}

// Trade is one account fill.
type Trade struct {
	ID          int64
	OrderID     int64
	Symbol      string
	Side        Side
	Price       float64
	Qty         float64
	RealizedPnL float64
	Commission  float64
	Time        time.Time
}
