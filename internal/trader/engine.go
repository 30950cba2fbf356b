package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"futures-trade-assistant/internal/config"
	"futures-trade-assistant/internal/exchange"
	"futures-trade-assistant/internal/limits"
	"futures-trade-assistant/internal/market"
	"futures-trade-assistant/internal/risk"
)

// Engine is the trading assistant: sizing, order orchestration and position queries over one
// gateway. It is constructed once and shared by all callers.
type Engine struct {
	logger  *zap.Logger
	gateway exchange.Gateway
	cache   *market.Cache
	tracker *limits.Tracker
	params  risk.Params
	retry   exchange.RetryPolicy
	trading config.Trading
	sleep   func(time.Duration)
}

// NewEngine creates a new trading engine.
func NewEngine(logger *zap.Logger, cfg *config.Config, gw exchange.Gateway, cache *market.Cache, tracker *limits.Tracker) *Engine {
	return &Engine{
		logger:  logger,
		gateway: gw,
		cache:   cache,
		tracker: tracker,
		params: risk.Params{
			MaxRiskPercent:    cfg.Trading.MaxRiskPercent,
			MaxLeverage:       cfg.Trading.MaxLeverage,
			LiquidationBuffer: cfg.Trading.LiquidationBuffer,
			NoStopLeverage:    cfg.Trading.NoStopLeverage,
		},
		retry:   exchange.RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, Delay: cfg.Retry.Delay},
		trading: cfg.Trading,
		sleep:   time.Sleep,
	}
}

// Symbols lists the tradable contracts.
func (e *Engine) Symbols(ctx context.Context) []string {
	return e.cache.Symbols(ctx)
}

// LivePrice returns the cached last price of symbol; ok is false when none is known.
func (e *Engine) LivePrice(ctx context.Context, symbol string) (float64, bool) {
	return e.cache.Price(ctx, normalizeSymbol(symbol))
}

// TodayStats returns today's trade counters and caps.
func (e *Engine) TodayStats(ctx context.Context) (limits.TodayStats, error) {
	return e.tracker.Today(ctx)
}

// Quote sizes a trade from the live account balance without placing orders.
func (e *Engine) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	symbol := normalizeSymbol(req.Symbol)
	if symbol == "" {
		return Quote{}, inputErrorf("symbol is required")
	}
	if err := validateStop(req.StopLoss, true); err != nil {
		return Quote{}, err
	}

	acc, err := e.account(ctx)
	if err != nil {
		return Quote{}, err
	}
	entry, err := e.entryPrice(ctx, symbol, req.EntryPrice)
	if err != nil {
		return Quote{}, err
	}

	sizing, err := e.size(acc, entry, req.StopLoss)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Sizing:          sizing,
		Symbol:          symbol,
		EntryPrice:      entry,
		WalletBalance:   acc.WalletBalance,
		UsedMargin:      acc.UsedMargin,
		AvailableMargin: acc.Unutilized(),
	}, nil
}

// account reads the wallet summary, retrying rate-limit rejections.
func (e *Engine) account(ctx context.Context) (exchange.Account, error) {
	return exchange.Retry(ctx, e.retry, e.logger, "get balance", e.gateway.Account)
}

// entryPrice is the hint when given, otherwise the live price.
func (e *Engine) entryPrice(ctx context.Context, symbol string, hint float64) (float64, error) {
	if hint > 0 {
		return hint, nil
	}
	price, ok := e.cache.Price(ctx, symbol)
	if !ok || price <= 0 {
		return 0, fmt.Errorf("no live price for %s: %w", symbol, exchange.ErrUnavailable)
	}
	return price, nil
}

func (e *Engine) size(acc exchange.Account, entry float64, sl StopLoss) (risk.Sizing, error) {
	sizing, err := risk.Size(risk.Input{
		AvailableMargin: acc.Unutilized(),
		EntryPrice:      entry,
		StopType:        sl.Type,
		StopValue:       sl.Value,
	}, e.params)
	switch {
	case errors.Is(err, risk.ErrInvalidEntry):
		return risk.Sizing{}, &InputError{Msg: "invalid entry price", Err: err}
	case errors.Is(err, risk.ErrInvalidStopDistance):
		return risk.Sizing{}, &InputError{Msg: "invalid stop-loss distance", Err: err}
	case err != nil:
		return risk.Sizing{}, err
	}
	return sizing, nil
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func validateStop(sl StopLoss, allowZero bool) error {
	if sl.Type != risk.StopPercent && sl.Type != risk.StopPrice {
		return inputErrorf("stop-loss type must be %q or %q", risk.StopPercent, risk.StopPrice)
	}
	if sl.Value < 0 || (!allowZero && sl.Value == 0) {
		return inputErrorf("stop-loss is required and must be positive")
	}
	return nil
}

// wait blocks for d unless ctx ends first.
func (e *Engine) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	done := make(chan struct{})
	go func() {
		e.sleep(d)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
