package binance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"futures-trade-assistant/internal/config"
	"futures-trade-assistant/internal/exchange"
)

// Offsets below this many milliseconds are left to recvWindow.
const maxClockSkewMillis = 1000

// After a failed connect, calls fail fast for this long before another attempt is made.
const reconnectCooldown = 5 * time.Second

type timeSyncer interface {
	TimeOffset(ctx context.Context) (int64, error)
}

// Connector is an exchange.Gateway that builds and verifies the authenticated client on first
// use and again after a failed attempt. Concurrent callers share one attempt. Calls return
// exchange.ErrUnavailable while no client can be built.
type Connector struct {
	cfg       config.Binance
	logger    *zap.Logger
	clock     timeSyncer
	newClient func(config.Binance) *futures.Client
	now       func() time.Time

	connects singleflight.Group

	mu          sync.Mutex
	gateway     *FuturesGateway
	retryAt     time.Time
	lastFailure error
}

var _ exchange.Gateway = (*Connector)(nil)

// NewConnector creates a lazy gateway for cfg.
func NewConnector(cfg config.Binance, logger *zap.Logger) *Connector {
	return &Connector{
		cfg:       cfg,
		logger:    logger,
		clock:     NewRestClient(cfg, logger),
		newClient: NewFuturesClient,
		now:       time.Now,
	}
}

// Connect returns the verified gateway, building it if needed.
func (c *Connector) Connect(ctx context.Context) (*FuturesGateway, error) {
	c.mu.Lock()
	gw, retryAt, lastFailure := c.gateway, c.retryAt, c.lastFailure
	c.mu.Unlock()

	if gw != nil {
		return gw, nil
	}
	if !c.cfg.HasCredentials() {
		return nil, exchange.ErrUnavailable
	}
	if c.now().Before(retryAt) {
		return nil, fmt.Errorf("%w: %v", exchange.ErrUnavailable, lastFailure)
	}

	v, err, _ := c.connects.Do("connect", func() (interface{}, error) {
		gw, err := c.build(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.retryAt = c.now().Add(reconnectCooldown)
			c.lastFailure = err
			return nil, err
		}
		c.gateway = gw
		return gw, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrUnavailable, err)
	}
	return v.(*FuturesGateway), nil
}

// build syncs the clock and verifies the credentials with an account read.
func (c *Connector) build(ctx context.Context) (*FuturesGateway, error) {
	offset, err := c.clock.TimeOffset(ctx)
	if err != nil {
		c.logger.Warn("Could not sync time with Binance", zap.Error(err))
		offset = 0
	}
	c.logger.Info("Time offset with Binance", zap.Int64("offset_ms", offset))

	client := c.newClient(c.cfg)
	if offset > maxClockSkewMillis || offset < -maxClockSkewMillis {
		client.TimeOffset = offset
		c.logger.Info("Applied time offset", zap.Int64("offset_ms", offset))
	}

	gw := NewFuturesGateway(client, c.cfg, c.logger)
	if _, err := gw.Account(ctx); err != nil {
		c.logger.Error("Failed to initialize Binance client", zap.Error(err))
		return nil, err
	}

	c.logger.Info("Binance futures client initialized", zap.Bool("testnet", c.cfg.Testnet))
	return gw, nil
}

func (c *Connector) Account(ctx context.Context) (exchange.Account, error) {
	gw, err := c.Connect(ctx)
	if err != nil {
		return exchange.Account{}, err
	}
	return gw.Account(ctx)
}

func (c *Connector) LastPrice(ctx context.Context, symbol string) (float64, error) {
	gw, err := c.Connect(ctx)
	if err != nil {
		return 0, err
	}
	return gw.LastPrice(ctx, symbol)
}

func (c *Connector) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	gw, err := c.Connect(ctx)
	if err != nil {
		return 0, err
	}
	return gw.MarkPrice(ctx, symbol)
}

func (c *Connector) ExchangeInfo(ctx context.Context) ([]exchange.SymbolInfo, error) {
	gw, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return gw.ExchangeInfo(ctx)
}

func (c *Connector) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	gw, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	return gw.SetLeverage(ctx, symbol, leverage)
}

func (c *Connector) SetMarginMode(ctx context.Context, symbol string, mode exchange.MarginMode) error {
	gw, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	return gw.SetMarginMode(ctx, symbol, mode)
}

func (c *Connector) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	gw, err := c.Connect(ctx)
	if err != nil {
		return exchange.Order{}, err
	}
	return gw.PlaceOrder(ctx, req)
}

func (c *Connector) OpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	gw, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return gw.OpenOrders(ctx, symbol)
}

func (c *Connector) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	gw, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	return gw.CancelOrder(ctx, symbol, orderID)
}

func (c *Connector) CancelAllOrders(ctx context.Context, symbol string) error {
	gw, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	return gw.CancelAllOrders(ctx, symbol)
}

func (c *Connector) Positions(ctx context.Context, symbol string) ([]exchange.PositionRisk, error) {
	gw, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return gw.Positions(ctx, symbol)
}

func (c *Connector) AccountTrades(ctx context.Context, symbol string, limit int) ([]exchange.Trade, error) {
	gw, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return gw.AccountTrades(ctx, symbol, limit)
}
