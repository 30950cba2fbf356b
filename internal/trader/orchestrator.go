package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-trade-assistant/internal/exchange"
	"futures-trade-assistant/internal/id"
	"futures-trade-assistant/internal/limits"
	"futures-trade-assistant/internal/market"
	"futures-trade-assistant/internal/metrics"
	"futures-trade-assistant/internal/risk"
)

// Fills read back when resolving the entry price.
const fillLookback = 20

var hundred = decimal.NewFromInt(100)

// Validate checks the mandatory parts of a request.
func (r TradeRequest) Validate(maxLeverage int) error {
	if normalizeSymbol(r.Symbol) == "" {
		return inputErrorf("symbol is required")
	}
	if r.Side != SideLong && r.Side != SideShort {
		return inputErrorf("side must be %s or %s", SideLong, SideShort)
	}
	if r.EntryPrice < 0 {
		return inputErrorf("entry price must not be negative")
	}
	if err := validateStop(r.StopLoss, false); err != nil {
		return err
	}
	if err := checkStopSide(r.Side, r.EntryPrice, r.StopLoss); err != nil {
		return err
	}
	if r.TP1Price <= 0 {
		return inputErrorf("TP1 price is required")
	}
	if r.TP1Percent <= 0 || r.TP1Percent > 100 {
		return inputErrorf("TP1 quantity percent must be in (0, 100]")
	}
	if r.TP2Price < 0 {
		return inputErrorf("TP2 price must not be negative")
	}
	if r.OrderType != "" && r.OrderType != string(exchange.OrderTypeMarket) {
		return inputErrorf("only MARKET entries are supported")
	}
	if r.MarginMode != "" && r.MarginMode != exchange.MarginIsolated && r.MarginMode != exchange.MarginCrossed {
		return inputErrorf("margin mode must be %s or %s", exchange.MarginIsolated, exchange.MarginCrossed)
	}
	if r.Units < 0 {
		return inputErrorf("units must not be negative")
	}
	if r.Leverage < 0 || r.Leverage > maxLeverage {
		return inputErrorf("leverage must be between 1 and %d", maxLeverage)
	}
	return nil
}

// ExecuteTrade places the entry order followed by its stop-loss and take-profit orders.
// Input and limit errors are returned as errors before anything is sent. Every later failure
// is reported in the result: a failed stop-loss closes the position again and aborts, failed
// take-profits degrade the result. The trade counts against the limits once its stop-loss is
// resting.
func (e *Engine) ExecuteTrade(ctx context.Context, req TradeRequest) (ExecutionResult, error) {
	if err := req.Validate(e.params.MaxLeverage); err != nil {
		return ExecutionResult{}, err
	}
	req.Symbol = normalizeSymbol(req.Symbol)
	if req.MarginMode == "" {
		req.MarginMode = exchange.MarginIsolated
	}

	reservation, err := e.tracker.Reserve(ctx, req.Symbol)
	if err != nil {
		var limitErr *limits.LimitError
		if errors.As(err, &limitErr) {
			e.logger.Info("Trade blocked by limits", zap.String("symbol", req.Symbol), zap.String("reason", limitErr.Reason))
			return ExecutionResult{}, err
		}
		return ExecutionResult{}, fmt.Errorf("check trade limits: %w", err)
	}
	defer reservation.Release()

	l := e.logger.With(
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
	)

	res, err := e.execute(ctx, l, req)
	if err != nil {
		return ExecutionResult{}, err
	}

	if res.Status != StatusAborted {
		if err := reservation.Commit(ctx); err != nil {
			l.Error("Failed to record trade", zap.Error(err))
		}
		stats, _ := e.tracker.Today(ctx)
		l.Info("Trade executed",
			zap.String("status", string(res.Status)),
			zap.Int("total_today", stats.TotalTrades),
			zap.Int("max_trades", stats.MaxTrades),
			zap.Int("symbol_today", stats.SymbolTrades[req.Symbol]),
		)
	}
	metrics.TradesExecuted.WithLabelValues(string(res.Status)).Inc()
	return res, nil
}

func (e *Engine) execute(ctx context.Context, l *zap.Logger, req TradeRequest) (ExecutionResult, error) {
	res := ExecutionResult{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Entry:    LegOutcome{Leg: LegEntry},
		StopLoss: LegOutcome{Leg: LegStopLoss},
		TP1:      LegOutcome{Leg: LegTP1},
		TP2:      LegOutcome{Leg: LegTP2, Skipped: req.TP2Price == 0},
	}

	// Prepare
	entryHint, err := e.entryPrice(ctx, req.Symbol, req.EntryPrice)
	if err != nil {
		return abort(res, "could not resolve entry price", err), nil
	}
	if err := checkStopSide(req.Side, entryHint, req.StopLoss); err != nil {
		return ExecutionResult{}, err
	}
	acc, err := e.account(ctx)
	if err != nil {
		return abort(res, "could not read account balance", err), nil
	}
	sizing, err := e.size(acc, entryHint, req.StopLoss)
	if err != nil {
		return ExecutionResult{}, err
	}

	filters := e.cache.Filters(ctx, req.Symbol)
	units := sizing.SuggestedUnits
	if req.Units > 0 {
		units = req.Units
	}
	qty := filters.RoundQty(decimal.NewFromFloat(units))
	leverage := sizing.MaxLeverage
	if req.Leverage > 0 {
		leverage = req.Leverage
	}
	res.Quantity = qty.InexactFloat64()
	res.Leverage = leverage
	l = l.With(zap.String("quantity", qty.String()), zap.Int("leverage", leverage))

	if err := e.gateway.SetLeverage(ctx, req.Symbol, leverage); err != nil {
		l.Error("Failed to set leverage", zap.Error(err))
		return abort(res, "could not set leverage", err), nil
	}
	l.Info("Leverage set")
	if err := e.gateway.SetMarginMode(ctx, req.Symbol, req.MarginMode); err != nil {
		l.Warn("Margin mode not changed", zap.String("margin_mode", string(req.MarginMode)), zap.Error(err))
	}

	// Entry
	exitSide := req.Side.entry().Opposite()
	entry, err := e.place(ctx, l, &res.Entry, "en", exchange.OrderRequest{
		Symbol:   req.Symbol,
		Side:     req.Side.entry(),
		Type:     exchange.OrderTypeMarket,
		Quantity: qty,
	})
	if err != nil {
		return abort(res, "entry order failed", err), nil
	}

	// The position is open from here on: protection must not be cut short by the caller.
	pctx := context.WithoutCancel(ctx)

	fill := e.resolveFill(pctx, l, req.Symbol, entry, entryHint)
	res.FillPrice = fill
	res.Entry.Price = fill
	l = l.With(zap.Float64("fill_price", fill))

	// Stop-loss
	slPrice := stopFromFill(filters, req.Side, fill, req.StopLoss)
	res.StopLoss.Price = slPrice.InexactFloat64()
	if _, err := e.place(pctx, l, &res.StopLoss, "sl", exchange.OrderRequest{
		Symbol:        req.Symbol,
		Side:          exitSide,
		Type:          exchange.OrderTypeStopMarket,
		StopPrice:     slPrice,
		ClosePosition: true,
	}); err != nil {
		closed := e.emergencyClose(pctx, l, &res, exitSide, qty)
		msg := "stop-loss placement failed, position closed"
		if !closed {
			msg = "stop-loss placement failed and the emergency close failed, position is UNPROTECTED"
		}
		return abort(res, msg, err), nil
	}

	// TP1
	tp1Qty := decimal.Min(filters.RoundQty(qty.Mul(decimal.NewFromFloat(req.TP1Percent)).Div(hundred)), qty)
	tp1Price := filters.RoundPrice(decimal.NewFromFloat(req.TP1Price))
	res.TP1.Price = tp1Price.InexactFloat64()
	res.TP1.Quantity = tp1Qty.InexactFloat64()
	_, tp1Err := e.place(pctx, l, &res.TP1, "tp1", exchange.OrderRequest{
		Symbol:     req.Symbol,
		Side:       exitSide,
		Type:       exchange.OrderTypeTakeProfitMarket,
		StopPrice:  tp1Price,
		Quantity:   tp1Qty,
		ReduceOnly: true,
	})

	// TP2
	var tp2Err error
	if req.TP2Price > 0 {
		tp2Price := filters.RoundPrice(decimal.NewFromFloat(req.TP2Price))
		res.TP2.Price = tp2Price.InexactFloat64()
		tp2 := exchange.OrderRequest{
			Symbol:    req.Symbol,
			Side:      exitSide,
			Type:      exchange.OrderTypeTakeProfitMarket,
			StopPrice: tp2Price,
		}

		remainder := qty.Sub(tp1Qty)
		switch {
		case !res.TP1.Placed:
			tp2.ClosePosition = true
			res.TP2.Quantity = res.Quantity
		case remainder.Sign() > 0:
			tp2.Quantity = remainder
			tp2.ReduceOnly = true
			res.TP2.Quantity = remainder.InexactFloat64()
		}

		if tp2.ClosePosition || tp2.ReduceOnly {
			_, tp2Err = e.place(pctx, l, &res.TP2, "tp2", tp2)
		} else {
			res.TP2.Skipped = true
			l.Info("TP2 skipped, nothing left after TP1")
		}
	}

	res.Status = StatusSuccess
	res.Message = fmt.Sprintf("order placed: entry %s, SL %s", decimal.NewFromFloat(fill).String(), slPrice.String())
	var failed []string
	if tp1Err != nil {
		failed = append(failed, "TP1 "+exchange.Describe(tp1Err))
	}
	if tp2Err != nil {
		failed = append(failed, "TP2 "+exchange.Describe(tp2Err))
	}
	if len(failed) > 0 {
		res.Status = StatusDegraded
		res.Message += "; not placed: " + strings.Join(failed, "; ")
	}
	return res, nil
}

// place submits one leg and records its outcome.
func (e *Engine) place(ctx context.Context, l *zap.Logger, out *LegOutcome, prefix string, req exchange.OrderRequest) (exchange.Order, error) {
	req.ClientOrderID = id.ClientOrderID(prefix)
	if !req.ClosePosition {
		out.Quantity = req.Quantity.InexactFloat64()
	}

	order, err := e.gateway.PlaceOrder(ctx, req)
	if err != nil {
		metrics.OrdersFailed.WithLabelValues(out.Leg).Inc()
		out.Error = exchange.Describe(err)
		l.Error("Order leg failed",
			zap.String("leg", out.Leg),
			zap.String("type", string(req.Type)),
			zap.String("price", req.StopPrice.String()),
			zap.String("leg_quantity", req.Quantity.String()),
			zap.Bool("close_position", req.ClosePosition),
			zap.Error(err),
		)
		return exchange.Order{}, err
	}

	metrics.OrdersPlaced.WithLabelValues(out.Leg).Inc()
	orderID := order.OrderID
	out.OrderID = &orderID
	out.Placed = true
	l.Info("Order leg placed",
		zap.String("leg", out.Leg),
		zap.Int64("order_id", orderID),
		zap.String("client_order_id", req.ClientOrderID),
		zap.String("price", req.StopPrice.String()),
	)
	return order, nil
}

// resolveFill prefers the volume-weighted price of the entry's own fills, then the mark price,
// then the price reported on the entry order, then the pre-trade hint.
func (e *Engine) resolveFill(ctx context.Context, l *zap.Logger, symbol string, entry exchange.Order, hint float64) float64 {
	e.wait(ctx, e.trading.SettleDelay)

	trades, err := e.gateway.AccountTrades(ctx, symbol, fillLookback)
	if err == nil {
		var notional, qty float64
		for _, t := range trades {
			if t.OrderID == entry.OrderID {
				notional += t.Price * t.Qty
				qty += t.Qty
			}
		}
		if qty > 0 {
			return notional / qty
		}
	} else {
		l.Warn("Could not read entry fills", zap.Error(err))
	}

	if mark, err := e.gateway.MarkPrice(ctx, symbol); err == nil && mark > 0 {
		return mark
	} else if err != nil {
		l.Warn("Could not read mark price", zap.Error(err))
	}
	if entry.AvgPrice > 0 {
		return entry.AvgPrice
	}
	return hint
}

// emergencyClose flattens a position whose stop-loss could not be placed.
func (e *Engine) emergencyClose(ctx context.Context, l *zap.Logger, res *ExecutionResult, side exchange.Side, qty decimal.Decimal) bool {
	l.Warn("Executing emergency close")
	res.EmergencyClose = &LegOutcome{Leg: LegEmergencyClose}

	_, err := e.place(ctx, l, res.EmergencyClose, "ec", exchange.OrderRequest{
		Symbol:     res.Symbol,
		Side:       side,
		Type:       exchange.OrderTypeMarket,
		Quantity:   qty,
		ReduceOnly: true,
	})
	metrics.EmergencyCloses.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		metrics.UnprotectedPositions.Inc()
		l.Error("CRITICAL: emergency close failed, position has no stop-loss", zap.Error(err))
		return false
	}
	l.Warn("Emergency close successful, position flattened")
	return true
}

func abort(res ExecutionResult, msg string, err error) ExecutionResult {
	res.Status = StatusAborted
	res.Err = err
	res.Message = msg + ": " + exchange.Describe(err)
	return res
}

// checkStopSide rejects stops that would rest at or below zero or on the winning side of
// entry. Price stops are only checked once an entry price is known.
func checkStopSide(side Side, entry float64, sl StopLoss) error {
	if sl.Value <= 0 {
		return nil
	}
	if sl.Type == risk.StopPercent {
		if side == SideLong && sl.Value >= 100 {
			return inputErrorf("stop-loss percent must be below 100 for %s", SideLong)
		}
		return nil
	}
	if entry <= 0 {
		return nil
	}
	if side == SideLong && sl.Value >= entry {
		return inputErrorf("stop-loss price %v must be below entry %v for %s", sl.Value, entry, SideLong)
	}
	if side == SideShort && sl.Value <= entry {
		return inputErrorf("stop-loss price %v must be above entry %v for %s", sl.Value, entry, SideShort)
	}
	return nil
}

// stopFromFill measures the stop distance from the actual fill. A price stop keeps its
// absolute distance, so it rests where it was asked for whenever it is on the losing side.
func stopFromFill(f market.Filters, side Side, fill float64, sl StopLoss) decimal.Decimal {
	if sl.Type == risk.StopPercent {
		return stopPrice(f, side, fill, sl.Value)
	}
	base := decimal.NewFromFloat(fill)
	dist := base.Sub(decimal.NewFromFloat(sl.Value)).Abs()
	if side == SideLong {
		return f.RoundPrice(base.Sub(dist))
	}
	return f.RoundPrice(base.Add(dist))
}

// stopPrice places the stop pct percent away from fill on the losing side.
func stopPrice(f market.Filters, side Side, fill, pct float64) decimal.Decimal {
	move := decimal.NewFromFloat(pct).Div(hundred)
	price := decimal.NewFromFloat(fill)
	if side == SideLong {
		price = price.Mul(decimal.NewFromInt(1).Sub(move))
	} else {
		price = price.Mul(decimal.NewFromInt(1).Add(move))
	}
	return f.RoundPrice(price)
}
