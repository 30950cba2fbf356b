package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"futures-trade-assistant/internal/config"
	"futures-trade-assistant/internal/exchange"
	"futures-trade-assistant/internal/metrics"
)

// Binance code returned when the requested margin type is already active.
const codeNoNeedToChangeMarginType = -4046

// FuturesGateway implements exchange.Gateway on the USDⓈ-M futures SDK client.
type FuturesGateway struct {
	client     *futures.Client
	logger     *zap.Logger
	limiter    *rate.Limiter
	recvWindow int64
}

var _ exchange.Gateway = (*FuturesGateway)(nil)

// NewFuturesGateway wraps an SDK client. Every call waits on one shared limiter.
func NewFuturesGateway(client *futures.Client, cfg config.Binance, logger *zap.Logger) *FuturesGateway {
	return &FuturesGateway{
		client:     client,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		recvWindow: cfg.RecvWindow,
	}
}

// NewFuturesClient builds the SDK client for the configured environment.
func NewFuturesClient(cfg config.Binance) *futures.Client {
	futures.UseTestnet = cfg.Testnet
	client := futures.NewClient(cfg.ApiKey, cfg.ApiSecret)
	if cfg.Timeout > 0 {
		client.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return client
}

func (g *FuturesGateway) opts() []futures.RequestOption {
	if g.recvWindow <= 0 {
		return nil
	}
	return []futures.RequestOption{futures.WithRecvWindow(g.recvWindow)}
}

// call waits for the limiter, runs fn and maps SDK errors to the exchange taxonomy.
func (g *FuturesGateway) call(ctx context.Context, op string, fn func() error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter wait failed: %w", op, err)
	}
	err := g.mapError(op, fn())
	metrics.GatewayRequests.WithLabelValues(op, metrics.Result(err)).Inc()
	return err
}

func (g *FuturesGateway) mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &exchange.RejectedError{Op: op, Code: apiErr.Code, Message: apiErr.Message}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (g *FuturesGateway) Account(ctx context.Context) (exchange.Account, error) {
	var acc *futures.Account
	err := g.call(ctx, "account", func() (err error) {
		acc, err = g.client.NewGetAccountService().Do(ctx, g.opts()...)
		return err
	})
	if err != nil {
		return exchange.Account{}, err
	}
	return exchange.Account{
		WalletBalance:    parseFloat(acc.TotalWalletBalance),
		UsedMargin:       parseFloat(acc.TotalInitialMargin),
		AvailableBalance: parseFloat(acc.AvailableBalance),
	}, nil
}

func (g *FuturesGateway) LastPrice(ctx context.Context, symbol string) (float64, error) {
	var prices []*futures.SymbolPrice
	err := g.call(ctx, "ticker_price", func() (err error) {
		prices, err = g.client.NewListPricesService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return parseFloat(p.Price), nil
		}
	}
	return 0, fmt.Errorf("ticker_price: no price for %s", symbol)
}

func (g *FuturesGateway) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	var indexes []*futures.PremiumIndex
	err := g.call(ctx, "mark_price", func() (err error) {
		indexes, err = g.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, idx := range indexes {
		if idx.Symbol == symbol {
			return parseFloat(idx.MarkPrice), nil
		}
	}
	return 0, fmt.Errorf("mark_price: no mark price for %s", symbol)
}

func (g *FuturesGateway) ExchangeInfo(ctx context.Context) ([]exchange.SymbolInfo, error) {
	var info *futures.ExchangeInfo
	err := g.call(ctx, "exchange_info", func() (err error) {
		info, err = g.client.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]exchange.SymbolInfo, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		si := exchange.SymbolInfo{Symbol: s.Symbol, Status: s.Status, QuoteAsset: s.QuoteAsset}
		if lot := s.LotSizeFilter(); lot != nil {
			si.StepSize = parseDecimal(lot.StepSize)
		}
		if pf := s.PriceFilter(); pf != nil {
			si.TickSize = parseDecimal(pf.TickSize)
			si.HasPriceFilter = true
		}
		out = append(out, si)
	}
	return out, nil
}

func (g *FuturesGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return g.call(ctx, "change_leverage", func() error {
		_, err := g.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx, g.opts()...)
		return err
	})
}

// SetMarginMode treats "No need to change margin type" as success.
func (g *FuturesGateway) SetMarginMode(ctx context.Context, symbol string, mode exchange.MarginMode) error {
	marginType := futures.MarginTypeIsolated
	if mode == exchange.MarginCrossed {
		marginType = futures.MarginTypeCrossed
	}
	err := g.call(ctx, "change_margin_type", func() error {
		return g.client.NewChangeMarginTypeService().Symbol(symbol).MarginType(marginType).Do(ctx, g.opts()...)
	})
	if rej, ok := exchange.AsRejected(err); ok && rej.Code == codeNoNeedToChangeMarginType {
		return nil
	}
	return err
}

func (g *FuturesGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	svc := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type))

	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	if req.ClosePosition {
		svc = svc.ClosePosition(true)
	} else {
		svc = svc.Quantity(req.Quantity.String())
		if req.ReduceOnly {
			svc = svc.ReduceOnly(true)
		}
	}
	if req.Type != exchange.OrderTypeMarket {
		svc = svc.StopPrice(req.StopPrice.String()).WorkingType(futures.WorkingTypeMarkPrice)
	}

	var resp *futures.CreateOrderResponse
	err := g.call(ctx, "create_order", func() (err error) {
		resp, err = svc.Do(ctx, g.opts()...)
		return err
	})
	if err != nil {
		g.logger.Error("Order rejected",
			zap.String("symbol", req.Symbol),
			zap.String("side", string(req.Side)),
			zap.String("type", string(req.Type)),
			zap.String("quantity", req.Quantity.String()),
			zap.String("stop_price", req.StopPrice.String()),
			zap.Error(err),
		)
		return exchange.Order{}, err
	}

	return exchange.Order{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          exchange.Side(resp.Side),
		Type:          exchange.OrderType(resp.Type),
		Status:        string(resp.Status),
		Price:         parseFloat(resp.Price),
		StopPrice:     parseFloat(resp.StopPrice),
		OrigQty:       parseFloat(resp.OrigQuantity),
		AvgPrice:      parseFloat(resp.AvgPrice),
		ClosePosition: resp.ClosePosition,
		ReduceOnly:    resp.ReduceOnly,
	}, nil
}

func (g *FuturesGateway) OpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	var orders []*futures.Order
	err := g.call(ctx, "open_orders", func() (err error) {
		orders, err = g.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx, g.opts()...)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]exchange.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, exchange.Order{
			OrderID:       o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Side:          exchange.Side(o.Side),
			Type:          exchange.OrderType(o.Type),
			Status:        string(o.Status),
			Price:         parseFloat(o.Price),
			StopPrice:     parseFloat(o.StopPrice),
			OrigQty:       parseFloat(o.OrigQuantity),
			AvgPrice:      parseFloat(o.AvgPrice),
			ClosePosition: o.ClosePosition,
			ReduceOnly:    o.ReduceOnly,
		})
	}
	return out, nil
}

func (g *FuturesGateway) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return g.call(ctx, "cancel_order", func() error {
		_, err := g.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx, g.opts()...)
		return err
	})
}

func (g *FuturesGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	return g.call(ctx, "cancel_all_orders", func() error {
		return g.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx, g.opts()...)
	})
}

func (g *FuturesGateway) Positions(ctx context.Context, symbol string) ([]exchange.PositionRisk, error) {
	var risks []*futures.PositionRisk
	err := g.call(ctx, "position_risk", func() (err error) {
		svc := g.client.NewGetPositionRiskService()
		if symbol != "" {
			svc = svc.Symbol(symbol)
		}
		risks, err = svc.Do(ctx, g.opts()...)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]exchange.PositionRisk, 0, len(risks))
	for _, p := range risks {
		leverage, _ := strconv.Atoi(p.Leverage)
		out = append(out, exchange.PositionRisk{
			Symbol:           p.Symbol,
			PositionAmt:      parseFloat(p.PositionAmt),
			EntryPrice:       parseFloat(p.EntryPrice),
			MarkPrice:        parseFloat(p.MarkPrice),
			UnrealizedPnL:    parseFloat(p.UnRealizedProfit),
			LiquidationPrice: parseFloat(p.LiquidationPrice),
			Notional:         parseFloat(p.Notional),
			Leverage:         leverage,
			MarginType:       p.MarginType,
		})
	}
	return out, nil
}

func (g *FuturesGateway) AccountTrades(ctx context.Context, symbol string, limit int) ([]exchange.Trade, error) {
	var trades []*futures.AccountTrade
	err := g.call(ctx, "account_trades", func() (err error) {
		svc := g.client.NewListAccountTradeService().Symbol(symbol)
		if limit > 0 {
			svc = svc.Limit(limit)
		}
		trades, err = svc.Do(ctx, g.opts()...)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]exchange.Trade, 0, len(trades))
	for _, t := range trades {
		out = append(out, exchange.Trade{
			ID:          t.ID,
			OrderID:     t.OrderID,
			Symbol:      t.Symbol,
			Side:        exchange.Side(t.Side),
			Price:       parseFloat(t.Price),
			Qty:         parseFloat(t.Quantity),
			RealizedPnL: parseFloat(t.RealizedPnl),
			Commission:  parseFloat(t.Commission),
			Time:        time.UnixMilli(t.Time).UTC(),
		})
	}
	return out, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
