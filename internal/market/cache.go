package market

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"futures-trade-assistant/internal/config"
	"futures-trade-assistant/internal/exchange"
	"futures-trade-assistant/internal/metrics"
)

var fallbackSymbols = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT"}

type priceEntry struct {
	price     float64
	fetchedAt time.Time
}

// snapshot is one exchange-info read. It is replaced whole, never mutated.
type snapshot struct {
	symbols   []string
	filters   map[string]Filters
	fetchedAt time.Time
}

// Cache shields the gateway from bursts of price and exchange-info reads.
// It is safe for concurrent use.
type Cache struct {
	gateway    exchange.Gateway
	logger     *zap.Logger
	quoteAsset string
	defaults   []string
	priceTTL   time.Duration
	symbolTTL  time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	prices map[string]priceEntry
	info   *snapshot
}

// NewCache creates a market data cache in front of gw.
func NewCache(gw exchange.Gateway, cfg config.Cache, trading config.Trading, logger *zap.Logger) *Cache {
	defaults := trading.DefaultSymbols
	if len(defaults) == 0 {
		defaults = fallbackSymbols
	}
	quote := trading.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}
	return &Cache{
		gateway:    gw,
		logger:     logger,
		quoteAsset: quote,
		defaults:   defaults,
		priceTTL:   cfg.PriceTTL,
		symbolTTL:  cfg.SymbolTTL,
		now:        time.Now,
		prices:     make(map[string]priceEntry),
	}
}

// Price returns the last traded price of symbol. When the gateway fails the last cached value
// is returned; ok is false only when nothing was ever cached for the symbol.
func (c *Cache) Price(ctx context.Context, symbol string) (float64, bool) {
	now := c.now()

	c.mu.RLock()
	entry, cached := c.prices[symbol]
	c.mu.RUnlock()

	if cached && now.Sub(entry.fetchedAt) < c.priceTTL {
		metrics.CacheLookups.WithLabelValues("price", "hit").Inc()
		return entry.price, true
	}

	price, err := c.gateway.LastPrice(ctx, symbol)
	if err != nil {
		c.logger.Warn("Failed to refresh price", zap.String("symbol", symbol), zap.Error(err))
		if cached {
			metrics.CacheLookups.WithLabelValues("price", "stale").Inc()
			return entry.price, true
		}
		metrics.CacheLookups.WithLabelValues("price", "miss").Inc()
		return 0, false
	}

	c.mu.Lock()
	c.prices[symbol] = priceEntry{price: price, fetchedAt: now}
	c.mu.Unlock()

	metrics.CacheLookups.WithLabelValues("price", "refresh").Inc()
	return price, true
}

// Symbols returns the sorted TRADING contracts of the configured quote asset.
func (c *Cache) Symbols(ctx context.Context) []string {
	symbols := c.defaults
	if snap := c.snapshot(ctx); snap != nil {
		symbols = snap.symbols
	}
	out := make([]string, len(symbols))
	copy(out, symbols)
	return out
}

// Filters returns the quantization rules of symbol, or DefaultFilters when unknown.
func (c *Cache) Filters(ctx context.Context, symbol string) Filters {
	snap := c.snapshot(ctx)
	if snap == nil {
		return DefaultFilters()
	}
	if f, ok := snap.filters[symbol]; ok {
		return f
	}
	return DefaultFilters()
}

func (c *Cache) snapshot(ctx context.Context) *snapshot {
	now := c.now()

	c.mu.RLock()
	current := c.info
	c.mu.RUnlock()

	if current != nil && now.Sub(current.fetchedAt) < c.symbolTTL {
		metrics.CacheLookups.WithLabelValues("exchange_info", "hit").Inc()
		return current
	}

	infos, err := c.gateway.ExchangeInfo(ctx)
	if err != nil {
		c.logger.Warn("Failed to refresh exchange info", zap.Error(err))
		if current != nil {
			metrics.CacheLookups.WithLabelValues("exchange_info", "stale").Inc()
		} else {
			metrics.CacheLookups.WithLabelValues("exchange_info", "default").Inc()
		}
		return current
	}

	next := &snapshot{filters: make(map[string]Filters, len(infos)), fetchedAt: now}
	for _, info := range infos {
		f := Filters{StepSize: info.StepSize, TickSize: info.TickSize, HasPriceFilter: info.HasPriceFilter}
		next.filters[info.Symbol] = f
		if info.Status == exchange.StatusTrading && info.QuoteAsset == c.quoteAsset {
			next.symbols = append(next.symbols, info.Symbol)
		}
	}
	sort.Strings(next.symbols)

	c.mu.Lock()
	c.info = next
	c.mu.Unlock()

	metrics.CacheLookups.WithLabelValues("exchange_info", "refresh").Inc()
	return next
}
