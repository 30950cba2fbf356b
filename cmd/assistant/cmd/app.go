package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"futures-trade-assistant/internal/binance"
	"futures-trade-assistant/internal/config"
	"futures-trade-assistant/internal/database"
	"futures-trade-assistant/internal/limits"
	"futures-trade-assistant/internal/logger"
	"futures-trade-assistant/internal/market"
	"futures-trade-assistant/internal/trader"
)

// app is the wired engine and the resources behind it.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	engine *trader.Engine
	close  func()
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, err
	}
	log.Info("Configuration loaded", zap.Bool("testnet", cfg.Binance.Testnet), zap.String("database", cfg.Database.Driver))

	store, closeStore, err := newStore(cfg.Database, log)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}

	gw := binance.NewConnector(cfg.Binance, log)
	if !cfg.Binance.HasCredentials() {
		log.Warn("Binance API credentials not set, exchange calls will report not connected")
	}
	cache := market.NewCache(gw, cfg.Cache, cfg.Trading, log)
	tracker := limits.NewTracker(store, cfg.Trading.MaxTradesPerDay, cfg.Trading.MaxTradesPerSymbol, log)

	return &app{
		cfg:    cfg,
		log:    log,
		engine: trader.NewEngine(log, &cfg, gw, cache, tracker),
		close: func() {
			closeStore()
			_ = log.Sync()
		},
	}, nil
}

// newStore selects the trade counter store. The memory store forgets counters on restart.
func newStore(cfg config.Database, log *zap.Logger) (limits.Store, func(), error) {
	if cfg.Driver == "memory" {
		return limits.NewMemoryStore(), func() {}, nil
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	log.Info("Database connection successful and schema migrated.")

	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return limits.NewGormStore(db), closeDB, nil
}
