package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"futures-trade-assistant/internal/exchange"
	"futures-trade-assistant/internal/limits"
	"futures-trade-assistant/internal/trader"
)

// Assistant is the trading engine as seen by the HTTP layer.
type Assistant interface {
	Symbols(ctx context.Context) []string
	LivePrice(ctx context.Context, symbol string) (float64, bool)
	Quote(ctx context.Context, req trader.QuoteRequest) (trader.Quote, error)
	ExecuteTrade(ctx context.Context, req trader.TradeRequest) (trader.ExecutionResult, error)
	OpenPositions(ctx context.Context) ([]trader.OpenPosition, error)
	OpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error)
	VerifyProtection(ctx context.Context, symbol string) (trader.Protection, error)
	TradeHistory(ctx context.Context, symbol string, limit int) ([]trader.TradeRecord, error)
	TodayStats(ctx context.Context) (limits.TodayStats, error)
	ClosePosition(ctx context.Context, symbol string) (trader.CloseResult, error)
	PartialClose(ctx context.Context, symbol string, req trader.PartialCloseRequest) (trader.CloseResult, error)
	UpdateStopLoss(ctx context.Context, symbol string, deltaPercent float64) (trader.StopLossUpdate, error)
}

var _ Assistant = (*trader.Engine)(nil)

// Server provides an HTTP interface for the trading assistant.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer creates a new Server listening on port.
func NewServer(port int, assistant Assistant, logger *zap.Logger) *Server {
	logger = logger.Named("api-server")
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           NewHandler(assistant, logger).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("Starting API server", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

// Routes registers every endpoint on a fresh mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/symbols", h.Symbols)
	mux.HandleFunc("GET /api/price/{symbol}", h.Price)
	mux.HandleFunc("POST /api/quote", h.Quote)
	mux.HandleFunc("POST /api/trades", h.ExecuteTrade)
	mux.HandleFunc("GET /api/positions", h.Positions)
	mux.HandleFunc("GET /api/orders/{symbol}", h.Orders)
	mux.HandleFunc("GET /api/orders/{symbol}/protection", h.Protection)
	mux.HandleFunc("GET /api/history", h.History)
	mux.HandleFunc("GET /api/stats", h.Stats)
	mux.HandleFunc("POST /api/positions/{symbol}/close", h.ClosePosition)
	mux.HandleFunc("POST /api/positions/{symbol}/partial-close", h.PartialClose)
	mux.HandleFunc("POST /api/positions/{symbol}/stop-loss", h.UpdateStopLoss)
	return mux
}
