package trader

import (
	"time"

	"futures-trade-assistant/internal/exchange"
	"futures-trade-assistant/internal/risk"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// entry is the order side that opens a position in this direction.
func (s Side) entry() exchange.Side {
	if s == SideShort {
		return exchange.SideSell
	}
	return exchange.SideBuy
}

// StopLoss is a stop given either as a percent move or as an absolute price.
type StopLoss struct {
	Type  risk.StopType `json:"type"`
	Value float64       `json:"value"`
}

// TradeRequest is everything the operator decided about one trade.
type TradeRequest struct {
	Symbol     string              `json:"symbol"`
	Side       Side                `json:"side"`
	EntryPrice float64             `json:"entry_price"` // hint; 0 uses the live price
	StopLoss   StopLoss            `json:"stop_loss"`
	TP1Price   float64             `json:"tp1_price"`
	TP1Percent float64             `json:"tp1_percent"`
	TP2Price   float64             `json:"tp2_price,omitempty"`
	OrderType  string              `json:"order_type,omitempty"`
	MarginMode exchange.MarginMode `json:"margin_mode,omitempty"`
	Units      float64             `json:"units,omitempty"`
	Leverage   int                 `json:"leverage,omitempty"`
}

// QuoteRequest asks for a suggested size without placing anything.
type QuoteRequest struct {
	Symbol     string   `json:"symbol"`
	EntryPrice float64  `json:"entry_price"`
	StopLoss   StopLoss `json:"stop_loss"`
}

// Quote is a sizing suggestion together with the balances it was computed from.
type Quote struct {
	risk.Sizing
	Symbol          string  `json:"symbol"`
	EntryPrice      float64 `json:"entry_price"`
	WalletBalance   float64 `json:"wallet_balance"`
	UsedMargin      float64 `json:"used_margin"`
	AvailableMargin float64 `json:"available_margin"`
}

// Status is the terminal state of an execution.
type Status string

const (
	StatusSuccess  Status = "SUCCESS"
	StatusDegraded Status = "SUCCESS_DEGRADED"
	StatusAborted  Status = "ABORTED"
)

// Leg names.
const (
	LegEntry          = "entry"
	LegStopLoss       = "stop_loss"
	LegTP1            = "tp1"
	LegTP2            = "tp2"
	LegEmergencyClose = "emergency_close"
)

// LegOutcome reports one order of an execution. OrderID is nil unless the order was accepted.
type LegOutcome struct {
	Leg      string  `json:"leg"`
	OrderID  *int64  `json:"order_id"`
	Placed   bool    `json:"placed"`
	Skipped  bool    `json:"skipped,omitempty"`
	Error    string  `json:"error,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Quantity float64 `json:"quantity,omitempty"`
}

// ExecutionResult is returned by ExecuteTrade.
type ExecutionResult struct {
	Status    Status  `json:"status"`
	Message   string  `json:"message"`
	Symbol    string  `json:"symbol"`
	Side      Side    `json:"side"`
	Quantity  float64 `json:"quantity"`
	Leverage  int     `json:"leverage"`
	FillPrice float64 `json:"fill_price,omitempty"`

	Entry          LegOutcome  `json:"entry"`
	StopLoss       LegOutcome  `json:"stop_loss"`
	TP1            LegOutcome  `json:"tp1"`
	TP2            LegOutcome  `json:"tp2"`
	EmergencyClose *LegOutcome `json:"emergency_close,omitempty"`

	// Err is the gateway failure behind an ABORTED result.
	Err error `json:"-"`
}

// OpenPosition is a live snapshot of one position with derived metrics.
type OpenPosition struct {
	Symbol           string           `json:"symbol"`
	Side             Side             `json:"side"`
	Amount           float64          `json:"amount"`
	SizeUSDT         float64          `json:"size_usdt"`
	MarginUSDT       float64          `json:"margin_usdt"`
	MarginRatio      float64          `json:"margin_ratio"`
	EntryPrice       float64          `json:"entry_price"`
	MarkPrice        float64          `json:"mark_price"`
	UnrealizedPnL    float64          `json:"unrealized_pnl"`
	ROIPercent       float64          `json:"roi_percent"`
	Leverage         int              `json:"leverage"`
	LiquidationPrice float64          `json:"liquidation_price"`
	OpenOrders       []exchange.Order `json:"open_orders"`
	Timestamp        time.Time        `json:"timestamp"`
}

// TradeRecord is one fill in the trade history.
type TradeRecord struct {
	Time        time.Time `json:"time"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Qty         float64   `json:"qty"`
	Price       float64   `json:"price"`
	RealizedPnL float64   `json:"realized_pnl"`
	Commission  float64   `json:"commission"`
}

// Protection lists the protective orders resting for a symbol.
type Protection struct {
	Symbol     string           `json:"symbol"`
	StopLoss   []exchange.Order `json:"stop_loss"`
	TakeProfit []exchange.Order `json:"take_profit"`
	Protected  bool             `json:"protected"`
}

// PartialCloseRequest selects the amount to close, by percent or by explicit quantity.
type PartialCloseRequest struct {
	Percent  float64 `json:"percent,omitempty"`
	Quantity float64 `json:"quantity,omitempty"`
}

// CloseResult reports a full or partial close.
type CloseResult struct {
	Symbol   string  `json:"symbol"`
	OrderID  int64   `json:"order_id"`
	Quantity float64 `json:"quantity"`
	Message  string  `json:"message"`
}

// StopLossUpdate reports a moved stop-loss.
type StopLossUpdate struct {
	Symbol       string  `json:"symbol"`
	DeltaPercent float64 `json:"delta_percent"`
	StopPrice    float64 `json:"stop_price"`
	OrderID      int64   `json:"order_id"`
	Cancelled    []int64 `json:"cancelled"`
	Message      string  `json:"message"`
}
