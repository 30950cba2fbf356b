// Package exchangetest provides a testify mock of exchange.Gateway.
package exchangetest

import (
	"context"
	"strings"

	"github.com/stretchr/testify/mock"

	"futures-trade-assistant/internal/exchange"
)

// MockGateway is a mock implementation of exchange.Gateway.
type MockGateway struct {
	mock.Mock
}

var _ exchange.Gateway = (*MockGateway)(nil)

func (m *MockGateway) Account(ctx context.Context) (exchange.Account, error) {
	args := m.Called(ctx)
	return args.Get(0).(exchange.Account), args.Error(1)
}

func (m *MockGateway) LastPrice(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockGateway) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockGateway) ExchangeInfo(ctx context.Context) ([]exchange.SymbolInfo, error) {
	args := m.Called(ctx)
	infos, _ := args.Get(0).([]exchange.SymbolInfo)
	return infos, args.Error(1)
}

func (m *MockGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	args := m.Called(ctx, symbol, leverage)
	return args.Error(0)
}

func (m *MockGateway) SetMarginMode(ctx context.Context, symbol string, mode exchange.MarginMode) error {
	args := m.Called(ctx, symbol, mode)
	return args.Error(0)
}

func (m *MockGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.Order), args.Error(1)
}

func (m *MockGateway) OpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	args := m.Called(ctx, symbol)
	orders, _ := args.Get(0).([]exchange.Order)
	return orders, args.Error(1)
}

func (m *MockGateway) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	args := m.Called(ctx, symbol, orderID)
	return args.Error(0)
}

func (m *MockGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	args := m.Called(ctx, symbol)
	return args.Error(0)
}

func (m *MockGateway) Positions(ctx context.Context, symbol string) ([]exchange.PositionRisk, error) {
	args := m.Called(ctx, symbol)
	positions, _ := args.Get(0).([]exchange.PositionRisk)
	return positions, args.Error(1)
}

func (m *MockGateway) AccountTrades(ctx context.Context, symbol string, limit int) ([]exchange.Trade, error) {
	args := m.Called(ctx, symbol, limit)
	trades, _ := args.Get(0).([]exchange.Trade)
	return trades, args.Error(1)
}

// Leg matches an OrderRequest by its client order id prefix, e.g. Leg("sl").
func Leg(prefix string) interface{} {
	return mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return strings.HasPrefix(req.ClientOrderID, prefix+"-")
	})
}
