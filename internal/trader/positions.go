package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"futures-trade-assistant/internal/exchange"
	"futures-trade-assistant/internal/metrics"
)

// Concurrent per-symbol gateway reads in one query.
const queryFanOut = 4

// OpenPositions returns every non-zero position with derived metrics and its resting orders.
// An unavailable gateway yields an empty list.
func (e *Engine) OpenPositions(ctx context.Context) ([]OpenPosition, error) {
	risks, err := e.gateway.Positions(ctx, "")
	if errors.Is(err, exchange.ErrUnavailable) {
		return []OpenPosition{}, nil
	}
	if err != nil {
		e.logger.Warn("Failed to get open positions", zap.Error(err))
		return nil, fmt.Errorf("get positions: %w", err)
	}

	now := time.Now().UTC()
	positions := make([]OpenPosition, 0)
	for _, p := range risks {
		if p.PositionAmt != 0 {
			positions = append(positions, derivePosition(p, now))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(queryFanOut)
	for i := range positions {
		pos := &positions[i]
		g.Go(func() error {
			orders, err := e.gateway.OpenOrders(gctx, pos.Symbol)
			if err != nil {
				e.logger.Warn("Failed to get open orders", zap.String("symbol", pos.Symbol), zap.Error(err))
				orders = []exchange.Order{}
			}
			pos.OpenOrders = orders
			return nil
		})
	}
	_ = g.Wait()

	return positions, nil
}

// derivePosition computes side, margin, ROI and margin ratio for a non-zero position.
func derivePosition(p exchange.PositionRisk, at time.Time) OpenPosition {
	side := SideLong
	if p.PositionAmt < 0 {
		side = SideShort
	}

	notional := math.Abs(p.Notional)
	initialMargin := notional
	if p.Leverage > 0 {
		initialMargin = notional / float64(p.Leverage)
	}

	var roi float64
	if initialMargin > 0 {
		roi = p.UnrealizedPnL / initialMargin * 100
	}

	var marginRatio float64
	if p.MarkPrice > 0 && p.LiquidationPrice > 0 {
		if side == SideLong {
			marginRatio = (p.MarkPrice - p.LiquidationPrice) / p.MarkPrice * 100
		} else {
			marginRatio = (p.LiquidationPrice - p.MarkPrice) / p.MarkPrice * 100
		}
	}

	return OpenPosition{
		Symbol:           p.Symbol,
		Side:             side,
		Amount:           math.Abs(p.PositionAmt),
		SizeUSDT:         notional,
		MarginUSDT:       initialMargin,
		MarginRatio:      math.Abs(marginRatio),
		EntryPrice:       p.EntryPrice,
		MarkPrice:        p.MarkPrice,
		UnrealizedPnL:    p.UnrealizedPnL,
		ROIPercent:       roi,
		Leverage:         p.Leverage,
		LiquidationPrice: p.LiquidationPrice,
		OpenOrders:       []exchange.Order{},
		Timestamp:        at,
	}
}

// OpenOrders lists the resting orders of symbol.
func (e *Engine) OpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, inputErrorf("symbol is required")
	}
	orders, err := e.gateway.OpenOrders(ctx, symbol)
	if errors.Is(err, exchange.ErrUnavailable) {
		return []exchange.Order{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open orders for %s: %w", symbol, err)
	}
	return orders, nil
}

// VerifyProtection reports the stop-loss and take-profit orders resting for symbol.
func (e *Engine) VerifyProtection(ctx context.Context, symbol string) (Protection, error) {
	orders, err := e.OpenOrders(ctx, symbol)
	if err != nil {
		return Protection{}, err
	}

	p := Protection{Symbol: normalizeSymbol(symbol), StopLoss: []exchange.Order{}, TakeProfit: []exchange.Order{}}
	for _, o := range orders {
		switch {
		case o.Type.IsStop():
			p.StopLoss = append(p.StopLoss, o)
		case o.Type == exchange.OrderTypeTakeProfitMarket:
			p.TakeProfit = append(p.TakeProfit, o)
		}
	}
	p.Protected = len(p.StopLoss) > 0
	return p, nil
}

// TradeHistory returns recent fills, most recent first. Without a symbol it merges the fills of
// open positions, today's traded symbols and the configured default symbols.
func (e *Engine) TradeHistory(ctx context.Context, symbol string, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = e.trading.HistoryLimit
	}
	if limit <= 0 {
		limit = 50
	}

	symbols := []string{normalizeSymbol(symbol)}
	if symbols[0] == "" {
		symbols = e.historySymbols(ctx)
	}

	var mu sync.Mutex
	var records []TradeRecord
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(queryFanOut)
	for _, s := range symbols {
		g.Go(func() error {
			trades, err := e.gateway.AccountTrades(gctx, s, limit)
			if errors.Is(err, exchange.ErrUnavailable) {
				return err
			}
			if err != nil {
				e.logger.Warn("Failed to get trade history", zap.String("symbol", s), zap.Error(err))
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			for _, t := range trades {
				records = append(records, toTradeRecord(t))
			}
			return nil
		})
	}
	if err := g.Wait(); errors.Is(err, exchange.ErrUnavailable) {
		return []TradeRecord{}, nil
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Time.After(records[j].Time) })
	if len(records) > limit {
		records = records[:limit]
	}
	if records == nil {
		records = []TradeRecord{}
	}
	return records, nil
}

func (e *Engine) historySymbols(ctx context.Context) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	if risks, err := e.gateway.Positions(ctx, ""); err == nil {
		for _, p := range risks {
			if p.PositionAmt != 0 {
				add(p.Symbol)
			}
		}
	}
	if stats, err := e.tracker.Today(ctx); err == nil {
		for s := range stats.SymbolTrades {
			add(s)
		}
	}
	for _, s := range e.trading.DefaultSymbols {
		add(s)
	}
	return out
}

func toTradeRecord(t exchange.Trade) TradeRecord {
	side := SideLong
	if t.Side == exchange.SideSell {
		side = SideShort
	}
	return TradeRecord{
		Time:        t.Time,
		Symbol:      t.Symbol,
		Side:        side,
		Qty:         t.Qty,
		Price:       t.Price,
		RealizedPnL: t.RealizedPnL,
		Commission:  t.Commission,
	}
}

// position returns the open position of symbol or an InputError when flat.
func (e *Engine) position(ctx context.Context, symbol string) (exchange.PositionRisk, error) {
	risks, err := e.gateway.Positions(ctx, symbol)
	if err != nil {
		return exchange.PositionRisk{}, fmt.Errorf("get position for %s: %w", symbol, err)
	}
	for _, p := range risks {
		if p.Symbol == symbol && p.PositionAmt != 0 {
			return p, nil
		}
	}
	return exchange.PositionRisk{}, inputErrorf("no open position for %s", symbol)
}

// ClosePosition market-closes the whole position, then cancels the symbol's remaining orders.
func (e *Engine) ClosePosition(ctx context.Context, symbol string) (CloseResult, error) {
	symbol = normalizeSymbol(symbol)
	pos, err := e.position(ctx, symbol)
	if err != nil {
		return CloseResult{}, err
	}

	l := e.logger.With(zap.String("symbol", symbol))
	qty := decimal.NewFromFloat(math.Abs(pos.PositionAmt))
	out := LegOutcome{Leg: "close"}
	order, err := e.place(ctx, l, &out, "cl", exchange.OrderRequest{
		Symbol:     symbol,
		Side:       closeSide(pos),
		Type:       exchange.OrderTypeMarket,
		Quantity:   qty,
		ReduceOnly: true,
	})
	if err != nil {
		return CloseResult{}, fmt.Errorf("close %s: %w", symbol, err)
	}

	if err := e.gateway.CancelAllOrders(ctx, symbol); err != nil {
		l.Warn("Failed to cancel remaining orders", zap.Error(err))
	} else {
		l.Info("Cancelled all open orders")
	}

	l.Info("Position closed", zap.Int64("order_id", order.OrderID))
	return CloseResult{
		Symbol:   symbol,
		OrderID:  order.OrderID,
		Quantity: qty.InexactFloat64(),
		Message:  fmt.Sprintf("position closed for %s", symbol),
	}, nil
}

// PartialClose market-closes a percent or an explicit quantity of the position.
func (e *Engine) PartialClose(ctx context.Context, symbol string, req PartialCloseRequest) (CloseResult, error) {
	symbol = normalizeSymbol(symbol)
	switch {
	case req.Quantity < 0 || req.Percent < 0:
		return CloseResult{}, inputErrorf("close amount must be positive")
	case req.Quantity == 0 && req.Percent == 0:
		return CloseResult{}, inputErrorf("specify close percent or close quantity")
	case req.Quantity == 0 && req.Percent > 100:
		return CloseResult{}, inputErrorf("close percent must be in (0, 100]")
	}

	pos, err := e.position(ctx, symbol)
	if err != nil {
		return CloseResult{}, err
	}

	amount := decimal.NewFromFloat(math.Abs(pos.PositionAmt))
	raw := decimal.NewFromFloat(req.Quantity)
	if req.Quantity == 0 {
		raw = amount.Mul(decimal.NewFromFloat(req.Percent)).Div(hundred)
	}
	qty := decimal.Min(e.cache.Filters(ctx, symbol).RoundQty(raw), amount)

	l := e.logger.With(zap.String("symbol", symbol))
	out := LegOutcome{Leg: "partial_close"}
	order, err := e.place(ctx, l, &out, "pc", exchange.OrderRequest{
		Symbol:     symbol,
		Side:       closeSide(pos),
		Type:       exchange.OrderTypeMarket,
		Quantity:   qty,
		ReduceOnly: true,
	})
	if err != nil {
		return CloseResult{}, fmt.Errorf("partial close %s: %w", symbol, err)
	}

	return CloseResult{
		Symbol:   symbol,
		OrderID:  order.OrderID,
		Quantity: qty.InexactFloat64(),
		Message:  fmt.Sprintf("partially closed %s %s", qty.String(), symbol),
	}, nil
}

// UpdateStopLoss moves the stop to entry*(1+delta%) for longs and entry*(1-delta%) for shorts.
// Deltas outside the configured band are rejected. Existing stop orders are cancelled first;
// if a cancel fails or the new stop is refused, the ones already cancelled are placed again.
func (e *Engine) UpdateStopLoss(ctx context.Context, symbol string, deltaPercent float64) (StopLossUpdate, error) {
	lo, hi := e.trading.StopLossEditMinPercent, e.trading.StopLossEditMaxPercent
	if deltaPercent < lo || deltaPercent > hi {
		return StopLossUpdate{}, inputErrorf("stop-loss adjustment must be between %g%% and %g%%", lo, hi)
	}

	symbol = normalizeSymbol(symbol)
	pos, err := e.position(ctx, symbol)
	if err != nil {
		return StopLossUpdate{}, err
	}

	side := SideLong
	if pos.PositionAmt < 0 {
		side = SideShort
	}
	// stopPrice moves against the position; a negative delta is a move against it.
	newPrice := stopPrice(e.cache.Filters(ctx, symbol), side, pos.EntryPrice, -deltaPercent)

	orders, err := e.gateway.OpenOrders(ctx, symbol)
	if err != nil {
		return StopLossUpdate{}, fmt.Errorf("get open orders for %s: %w", symbol, err)
	}

	l := e.logger.With(zap.String("symbol", symbol), zap.Float64("delta_percent", deltaPercent))
	var cancelled []exchange.Order
	for _, o := range orders {
		if !o.Type.IsStop() {
			continue
		}
		if err := e.gateway.CancelOrder(ctx, symbol, o.OrderID); err != nil {
			l.Error("Failed to cancel old stop-loss", zap.Int64("order_id", o.OrderID), zap.Error(err))
			e.restoreStops(context.WithoutCancel(ctx), l, pos, cancelled)
			return StopLossUpdate{}, fmt.Errorf("cancel stop-loss %d: %w", o.OrderID, err)
		}
		l.Info("Cancelled old stop-loss", zap.Int64("order_id", o.OrderID))
		cancelled = append(cancelled, o)
	}

	out := LegOutcome{Leg: LegStopLoss}
	order, err := e.place(ctx, l, &out, "sl", exchange.OrderRequest{
		Symbol:        symbol,
		Side:          closeSide(pos),
		Type:          exchange.OrderTypeStopMarket,
		StopPrice:     newPrice,
		ClosePosition: true,
	})
	if err != nil {
		e.restoreStops(context.WithoutCancel(ctx), l, pos, cancelled)
		return StopLossUpdate{}, fmt.Errorf("place stop-loss for %s: %w", symbol, err)
	}

	ids := make([]int64, 0, len(cancelled))
	for _, o := range cancelled {
		ids = append(ids, o.OrderID)
	}
	return StopLossUpdate{
		Symbol:       symbol,
		DeltaPercent: deltaPercent,
		StopPrice:    newPrice.InexactFloat64(),
		OrderID:      order.OrderID,
		Cancelled:    ids,
		Message:      fmt.Sprintf("SL updated to %s (%+.2f%%)", newPrice.String(), deltaPercent),
	}, nil
}

// restoreStops re-places cancelled stops after a failed replacement.
func (e *Engine) restoreStops(ctx context.Context, l *zap.Logger, pos exchange.PositionRisk, stops []exchange.Order) {
	for _, o := range stops {
		out := LegOutcome{Leg: LegStopLoss}
		if _, err := e.place(ctx, l, &out, "sl", exchange.OrderRequest{
			Symbol:        pos.Symbol,
			Side:          closeSide(pos),
			Type:          exchange.OrderTypeStopMarket,
			StopPrice:     decimal.NewFromFloat(o.TriggerPrice()),
			ClosePosition: true,
		}); err != nil {
			metrics.UnprotectedPositions.Inc()
			l.Error("CRITICAL: could not restore stop-loss, position has no stop", zap.Float64("stop_price", o.TriggerPrice()), zap.Error(err))
		}
	}
}

func closeSide(p exchange.PositionRisk) exchange.Side {
	if p.PositionAmt > 0 {
		return exchange.SideSell
	}
	return exchange.SideBuy
}
