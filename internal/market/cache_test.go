package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"futures-trade-assistant/internal/config"
	"futures-trade-assistant/internal/exchange"
	"futures-trade-assistant/internal/exchange/exchangetest"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setupCache(t *testing.T) (*Cache, *exchangetest.MockGateway, *clock) {
	t.Helper()
	gw := new(exchangetest.MockGateway)
	c := NewCache(gw,
		config.Cache{PriceTTL: 5 * time.Second, SymbolTTL: time.Hour},
		config.Trading{QuoteAsset: "USDT"},
		zap.NewNop(),
	)
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c.now = clk.now
	return c, gw, clk
}

func TestCache_PriceTTL(t *testing.T) {
	c, gw, clk := setupCache(t)
	ctx := context.Background()

	gw.On("LastPrice", mock.Anything, "BTCUSDT").Return(50000.0, nil).Once()
	gw.On("LastPrice", mock.Anything, "BTCUSDT").Return(50100.0, nil).Once()

	price, ok := c.Price(ctx, "BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 50000.0, price)

	clk.advance(4 * time.Second)
	price, _ = c.Price(ctx, "BTCUSDT")
	assert.Equal(t, 50000.0, price, "served from cache inside the TTL")

	clk.advance(2 * time.Second)
	price, _ = c.Price(ctx, "BTCUSDT")
	assert.Equal(t, 50100.0, price)

	gw.AssertNumberOfCalls(t, "LastPrice", 2)
}

func TestCache_PriceStaleOnFailure(t *testing.T) {
	c, gw, clk := setupCache(t)
	ctx := context.Background()

	gw.On("LastPrice", mock.Anything, "ETHUSDT").Return(3000.0, nil).Once()
	gw.On("LastPrice", mock.Anything, "ETHUSDT").Return(0.0, errors.New("timeout"))

	_, ok := c.Price(ctx, "ETHUSDT")
	assert.True(t, ok)

	clk.advance(time.Minute)
	price, ok := c.Price(ctx, "ETHUSDT")
	assert.True(t, ok)
	assert.Equal(t, 3000.0, price)
}

func TestCache_PriceMissWithoutCache(t *testing.T) {
	c, gw, _ := setupCache(t)
	gw.On("LastPrice", mock.Anything, "XRPUSDT").Return(0.0, exchange.ErrUnavailable)

	price, ok := c.Price(context.Background(), "XRPUSDT")
	assert.False(t, ok)
	assert.Zero(t, price)
}

func exchangeInfo() []exchange.SymbolInfo {
	return []exchange.SymbolInfo{
		{Symbol: "SOLUSDT", Status: exchange.StatusTrading, QuoteAsset: "USDT", StepSize: decimal.RequireFromString("1"), TickSize: decimal.RequireFromString("0.01"), HasPriceFilter: true},
		{Symbol: "BTCUSDT", Status: exchange.StatusTrading, QuoteAsset: "USDT", StepSize: decimal.RequireFromString("0.001"), TickSize: decimal.RequireFromString("0.1"), HasPriceFilter: true},
		{Symbol: "ETHBUSD", Status: exchange.StatusTrading, QuoteAsset: "BUSD", StepSize: decimal.RequireFromString("0.001"), TickSize: decimal.RequireFromString("0.01"), HasPriceFilter: true},
		{Symbol: "LUNAUSDT", Status: "SETTLING", QuoteAsset: "USDT", StepSize: decimal.RequireFromString("1"), TickSize: decimal.RequireFromString("0.001"), HasPriceFilter: true},
	}
}

func TestCache_SymbolsAndFilters(t *testing.T) {
	c, gw, clk := setupCache(t)
	ctx := context.Background()
	gw.On("ExchangeInfo", mock.Anything).Return(exchangeInfo(), nil).Once()

	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, c.Symbols(ctx))

	f := c.Filters(ctx, "BTCUSDT")
	assert.True(t, decimal.RequireFromString("0.1").Equal(f.TickSize))
	assert.True(t, f.HasPriceFilter)

	assert.Equal(t, DefaultFilters(), c.Filters(ctx, "DOGEUSDT"))

	clk.advance(59 * time.Minute)
	c.Symbols(ctx)
	gw.AssertNumberOfCalls(t, "ExchangeInfo", 1)
}

func TestCache_SymbolsFallback(t *testing.T) {
	c, gw, clk := setupCache(t)
	ctx := context.Background()

	gw.On("ExchangeInfo", mock.Anything).Return(nil, exchange.ErrUnavailable).Once()
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT"}, c.Symbols(ctx))

	gw.On("ExchangeInfo", mock.Anything).Return(exchangeInfo(), nil).Once()
	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, c.Symbols(ctx))

	clk.advance(2 * time.Hour)
	gw.On("ExchangeInfo", mock.Anything).Return(nil, errors.New("503")).Once()
	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, c.Symbols(ctx), "last snapshot survives a failed refresh")

	gw.AssertExpectations(t)
}

func TestCache_SymbolsNoMatchIsEmpty(t *testing.T) {
	c, gw, _ := setupCache(t)
	ctx := context.Background()
	gw.On("ExchangeInfo", mock.Anything).Return([]exchange.SymbolInfo{
		{Symbol: "BTCUSDC", Status: exchange.StatusTrading, QuoteAsset: "USDC"},
	}, nil).Once()

	symbols := c.Symbols(ctx)

	assert.NotNil(t, symbols)
	assert.Empty(t, symbols)
}

func TestCache_SymbolsReturnsCopy(t *testing.T) {
	c, gw, _ := setupCache(t)
	ctx := context.Background()
	gw.On("ExchangeInfo", mock.Anything).Return(exchangeInfo(), nil).Once()

	first := c.Symbols(ctx)
	first[0] = "XRPUSDT"

	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, c.Symbols(ctx))
}
