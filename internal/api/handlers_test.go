package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"futures-trade-assistant/internal/config"
	"futures-trade-assistant/internal/exchange"
	"futures-trade-assistant/internal/exchange/exchangetest"
	"futures-trade-assistant/internal/limits"
	"futures-trade-assistant/internal/market"
	"futures-trade-assistant/internal/trader"
)

// setupServer wires a real engine over a mock gateway behind an httptest server.
func setupServer(t *testing.T) (*httptest.Server, *exchangetest.MockGateway, *limits.Tracker) {
	t.Helper()
	cfg := &config.Config{
		Trading: config.Trading{
			QuoteAsset: "USDT", DefaultSymbols: []string{"BTCUSDT"},
			MaxTradesPerDay: 4, MaxTradesPerSymbol: 2,
			MaxRiskPercent: 1, MaxLeverage: 125, NoStopLeverage: 10, LiquidationBuffer: 0.2,
			StopLossEditMinPercent: -1, StopLossEditMaxPercent: 0, HistoryLimit: 50,
		},
		Cache: config.Cache{PriceTTL: time.Second, SymbolTTL: time.Hour},
		Retry: config.Retry{MaxAttempts: 1},
	}

	gw := new(exchangetest.MockGateway)
	gw.On("ExchangeInfo", mock.Anything).Return([]exchange.SymbolInfo{{
		Symbol: "BTCUSDT", Status: exchange.StatusTrading, QuoteAsset: "USDT",
		StepSize: decimal.RequireFromString("0.001"), TickSize: decimal.RequireFromString("0.1"), HasPriceFilter: true,
	}}, nil).Maybe()

	tracker := limits.NewTracker(limits.NewMemoryStore(), 4, 2, zap.NewNop())
	cache := market.NewCache(gw, cfg.Cache, cfg.Trading, zap.NewNop())
	engine := trader.NewEngine(zap.NewNop(), cfg, gw, cache, tracker)

	srv := httptest.NewServer(NewHandler(engine, zap.NewNop()).Routes())
	t.Cleanup(srv.Close)
	return srv, gw, tracker
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv, _, _ := setupServer(t)

	resp := get(t, srv.URL+"/health")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := setupServer(t)

	resp := get(t, srv.URL+"/metrics")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPrice(t *testing.T) {
	srv, gw, _ := setupServer(t)
	gw.On("LastPrice", mock.Anything, "BTCUSDT").Return(65000.0, nil)
	gw.On("LastPrice", mock.Anything, "DOGEUSDT").Return(0.0, errors.New("timeout"))

	resp := get(t, srv.URL+"/api/price/BTCUSDT")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body priceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 65000.0, body.Price)

	resp = get(t, srv.URL+"/api/price/DOGEUSDT")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQuote(t *testing.T) {
	srv, gw, _ := setupServer(t)
	gw.On("Account", mock.Anything).Return(exchange.Account{WalletBalance: 1000}, nil)

	resp := post(t, srv.URL+"/api/quote", `{"symbol":"BTCUSDT","entry_price":50000,"stop_loss":{"type":"percent","value":2}}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var q trader.Quote
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&q))
	assert.Equal(t, 45, q.SuggestedLeverage)
	assert.Equal(t, 0.009091, q.SuggestedUnits)
}

func TestErrorStatusCodes(t *testing.T) {
	srv, gw, tracker := setupServer(t)

	resp := post(t, srv.URL+"/api/quote", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "malformed body")

	resp = post(t, srv.URL+"/api/trades", `{"symbol":"BTCUSDT","side":"LONG"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing stop-loss")

	gw.On("Account", mock.Anything).Return(exchange.Account{}, exchange.ErrUnavailable).Once()
	resp = post(t, srv.URL+"/api/quote", `{"symbol":"BTCUSDT","entry_price":100,"stop_loss":{"type":"percent","value":1}}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "exchange not connected", body.Error)

	ctx := context.Background()
	require.NoError(t, tracker.Record(ctx, "BTCUSDT"))
	require.NoError(t, tracker.Record(ctx, "BTCUSDT"))
	resp = post(t, srv.URL+"/api/trades", `{"symbol":"BTCUSDT","side":"LONG","stop_loss":{"type":"percent","value":1},"tp1_price":110,"tp1_percent":50}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestExecuteTrade_RejectedEntry(t *testing.T) {
	srv, gw, _ := setupServer(t)
	gw.On("Account", mock.Anything).Return(exchange.Account{WalletBalance: 1000}, nil)
	gw.On("SetLeverage", mock.Anything, "BTCUSDT", 45).Return(nil)
	gw.On("SetMarginMode", mock.Anything, "BTCUSDT", exchange.MarginIsolated).Return(nil)
	gw.On("PlaceOrder", mock.Anything, exchangetest.Leg("en")).Return(exchange.Order{}, &exchange.RejectedError{
		Op: "place order", Code: -2019, Message: "Margin is insufficient.",
	})

	resp := post(t, srv.URL+"/api/trades", `{"symbol":"BTCUSDT","side":"LONG","entry_price":50000,
		"stop_loss":{"type":"percent","value":2},"tp1_price":52000,"tp1_percent":50}`)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var res trader.ExecutionResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, trader.StatusAborted, res.Status)
	assert.Contains(t, res.Message, "Margin is insufficient.")
}

func TestPositionsUnavailable(t *testing.T) {
	srv, gw, _ := setupServer(t)
	gw.On("Positions", mock.Anything, "").Return(nil, exchange.ErrUnavailable)

	resp := get(t, srv.URL+"/api/positions")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var positions []trader.OpenPosition
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&positions))
	assert.Empty(t, positions)
}

func TestHistoryLimitValidation(t *testing.T) {
	srv, _, _ := setupServer(t)

	resp := get(t, srv.URL+"/api/history?limit=abc")

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStats(t *testing.T) {
	srv, _, tracker := setupServer(t)
	require.NoError(t, tracker.Record(context.Background(), "ETHUSDT"))

	resp := get(t, srv.URL+"/api/stats")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats limits.TodayStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, 4, stats.MaxTrades)
}

func TestUpdateStopLoss(t *testing.T) {
	srv, _, _ := setupServer(t)

	resp := post(t, srv.URL+"/api/positions/BTCUSDT/stop-loss", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "delta is required")

	resp = post(t, srv.URL+"/api/positions/BTCUSDT/stop-loss", `{"delta_percent":-2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "outside the band")
}

func TestClosePosition_Rejected(t *testing.T) {
	srv, gw, _ := setupServer(t)
	gw.On("Positions", mock.Anything, "BTCUSDT").Return([]exchange.PositionRisk{{Symbol: "BTCUSDT", PositionAmt: 1}}, nil)
	gw.On("PlaceOrder", mock.Anything, exchangetest.Leg("cl")).Return(exchange.Order{}, &exchange.RejectedError{
		Op: "place order", Code: -2022, Message: "ReduceOnly Order is rejected.",
	})

	resp := post(t, srv.URL+"/api/positions/BTCUSDT/close", "")

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
