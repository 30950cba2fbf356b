package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	GatewayRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_gateway_requests_total",
		Help: "Exchange gateway calls by operation and result",
	}, []string{"op", "result"})

	OrdersPlaced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_orders_placed_total",
		Help: "Orders accepted by the exchange, by leg",
	}, []string{"leg"})

	OrdersFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_orders_failed_total",
		Help: "Orders rejected or failed in transport, by leg",
	}, []string{"leg"})

	EmergencyCloses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_emergency_closes_total",
		Help: "Emergency market closes after a failed stop-loss, by result",
	}, []string{"result"})

	TradesExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_trades_total",
		Help: "Trade executions by terminal status",
	}, []string{"status"})

	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_cache_lookups_total",
		Help: "Market data cache lookups by kind and result (hit, miss, stale, default)",
	}, []string{"kind", "result"})

	UnprotectedPositions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assistant_unprotected_positions_total",
		Help: "Times a position was left without a stop-loss order",
	})
)

func init() {
	prometheus.MustRegister(
		GatewayRequests, OrdersPlaced, OrdersFailed, EmergencyCloses,
		TradesExecuted, CacheLookups, UnprotectedPositions,
	)
}

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
