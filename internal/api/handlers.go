package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"futures-trade-assistant/internal/exchange"
	"futures-trade-assistant/internal/trader"
)

// Handler holds dependencies for the API endpoints.
type Handler struct {
	log       *zap.Logger
	assistant Assistant
}

// NewHandler creates a new Handler.
func NewHandler(assistant Assistant, log *zap.Logger) *Handler {
	return &Handler{log: log, assistant: assistant}
}

type errorResponse struct {
	Error string `json:"error"`
}

type priceResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

type stopLossRequest struct {
	DeltaPercent *float64 `json:"delta_percent"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (h *Handler) Symbols(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.assistant.Symbols(r.Context()))
}

func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	price, ok := h.assistant.LivePrice(r.Context(), symbol)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no price for " + symbol})
		return
	}
	h.writeJSON(w, http.StatusOK, priceResponse{Symbol: symbol, Price: price})
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req trader.QuoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	q, err := h.assistant.Quote(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, q)
}

// ExecuteTrade answers 200 for executed and degraded trades. Aborted trades carry the result
// with the status of the failure behind it.
func (h *Handler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req trader.TradeRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.assistant.ExecuteTrade(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	code := http.StatusOK
	if res.Status == trader.StatusAborted {
		if code = statusFor(res.Err); code == http.StatusInternalServerError {
			code = http.StatusBadGateway
		}
	}
	h.writeJSON(w, code, res)
}

func (h *Handler) Positions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.assistant.OpenPositions(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, positions)
}

func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.assistant.OpenOrders(r.Context(), r.PathValue("symbol"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) Protection(w http.ResponseWriter, r *http.Request) {
	p, err := h.assistant.VerifyProtection(r.Context(), r.PathValue("symbol"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// History accepts optional symbol and limit query parameters.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	var limit int
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	records, err := h.assistant.TradeHistory(r.Context(), r.URL.Query().Get("symbol"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.assistant.TodayStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	res, err := h.assistant.ClosePosition(r.Context(), r.PathValue("symbol"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) PartialClose(w http.ResponseWriter, r *http.Request) {
	var req trader.PartialCloseRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.assistant.PartialClose(r.Context(), r.PathValue("symbol"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) UpdateStopLoss(w http.ResponseWriter, r *http.Request) {
	var req stopLossRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.DeltaPercent == nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "delta_percent is required"})
		return
	}
	res, err := h.assistant.UpdateStopLoss(r.Context(), r.PathValue("symbol"), *req.DeltaPercent)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		h.log.Error("Request failed", zap.Int("status", code), zap.Error(err))
		msg = exchange.Describe(err)
	}
	h.writeJSON(w, code, errorResponse{Error: msg})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	if _, ok := exchange.AsRejected(err); ok {
		return http.StatusBadGateway
	}
	switch {
	case trader.IsInputError(err):
		return http.StatusBadRequest
	case trader.IsLimitError(err):
		return http.StatusTooManyRequests
	case errors.Is(err, exchange.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to write response", zap.Error(err))
	}
}
