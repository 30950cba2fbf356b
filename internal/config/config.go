package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance  Binance  `mapstructure:"binance"`
	Trading  Trading  `mapstructure:"trading"`
	Cache    Cache    `mapstructure:"cache"`
	Retry    Retry    `mapstructure:"retry"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Binance holds the configuration for the Binance futures API.
type Binance struct {
	ApiKey         string        `mapstructure:"api_key"`
	ApiSecret      string        `mapstructure:"api_secret"`
	Testnet        bool          `mapstructure:"testnet"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RecvWindow     int64         `mapstructure:"recv_window"`
}

// Trading holds the risk and limit settings.
type Trading struct {
	QuoteAsset             string        `mapstructure:"quote_asset"`
	DefaultSymbols         []string      `mapstructure:"default_symbols"`
	MaxTradesPerDay        int           `mapstructure:"max_trades_per_day"`
	MaxTradesPerSymbol     int           `mapstructure:"max_trades_per_symbol_per_day"`
	MaxRiskPercent         float64       `mapstructure:"max_risk_percent"`
	MaxLeverage            int           `mapstructure:"max_leverage"`
	NoStopLeverage         int           `mapstructure:"no_stop_leverage"`
	LiquidationBuffer      float64       `mapstructure:"liquidation_buffer_percent"`
	StopLossEditMinPercent float64       `mapstructure:"sl_edit_min_percent"`
	StopLossEditMaxPercent float64       `mapstructure:"sl_edit_max_percent"`
	SettleDelay            time.Duration `mapstructure:"settle_delay"`
	HistoryLimit           int           `mapstructure:"history_limit"`
}

// Cache holds the market data cache lifetimes.
type Cache struct {
	PriceTTL  time.Duration `mapstructure:"price_ttl"`
	SymbolTTL time.Duration `mapstructure:"symbol_ttl"`
}

// Retry controls the bounded retry of rate-limited gateway reads.
type Retry struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database selects the trade counter store. Driver "memory" keeps counters in process.
type Database struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("binance.api_key", "")
	v.SetDefault("binance.api_secret", "")
	v.SetDefault("binance.testnet", false)
	v.SetDefault("binance.rate_limit", 10)      // requests per second
	v.SetDefault("binance.rate_limit_burst", 5) // burst size
	v.SetDefault("binance.timeout", 20*time.Second)
	v.SetDefault("binance.recv_window", 60000)

	v.SetDefault("trading.quote_asset", "USDT")
	v.SetDefault("trading.default_symbols", []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT"})
	v.SetDefault("trading.max_trades_per_day", 4)
	v.SetDefault("trading.max_trades_per_symbol_per_day", 2)
	v.SetDefault("trading.max_risk_percent", 1.0)
	v.SetDefault("trading.max_leverage", 125)
	v.SetDefault("trading.no_stop_leverage", 10)
	v.SetDefault("trading.liquidation_buffer_percent", 0.2)
	v.SetDefault("trading.sl_edit_min_percent", -1.0)
	v.SetDefault("trading.sl_edit_max_percent", 0.0)
	v.SetDefault("trading.settle_delay", time.Second)
	v.SetDefault("trading.history_limit", 50)

	v.SetDefault("cache.price_ttl", 5*time.Second)
	v.SetDefault("cache.symbol_ttl", time.Hour)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.delay", time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.port", 5000)
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
}

// LoadConfig reads configuration from path/config.yml, an optional ./.env file and environment
// variables. A missing config file is not an error; every key has a default.
func LoadConfig(path string) (config Config, err error) {
	// .env is optional; values already in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file, e.g. BINANCE_API_KEY.
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}
	return config, config.Validate()
}

// Validate rejects limit and risk settings the engine cannot work with.
func (c Config) Validate() error {
	t := c.Trading
	switch {
	case t.MaxTradesPerDay < 1:
		return fmt.Errorf("trading.max_trades_per_day must be at least 1, got %d", t.MaxTradesPerDay)
	case t.MaxTradesPerSymbol < 1:
		return fmt.Errorf("trading.max_trades_per_symbol_per_day must be at least 1, got %d", t.MaxTradesPerSymbol)
	case t.MaxRiskPercent <= 0 || t.MaxRiskPercent > 100:
		return fmt.Errorf("trading.max_risk_percent must be in (0,100], got %v", t.MaxRiskPercent)
	case t.MaxLeverage < 1:
		return fmt.Errorf("trading.max_leverage must be at least 1, got %d", t.MaxLeverage)
	case t.StopLossEditMinPercent > t.StopLossEditMaxPercent:
		return fmt.Errorf("trading.sl_edit_min_percent %v is above sl_edit_max_percent %v",
			t.StopLossEditMinPercent, t.StopLossEditMaxPercent)
	}
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	return nil
}

// HasCredentials reports whether both API key and secret are set.
func (b Binance) HasCredentials() bool {
	return b.ApiKey != "" && b.ApiSecret != ""
}
