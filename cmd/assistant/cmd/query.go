package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"futures-trade-assistant/internal/risk"
	"futures-trade-assistant/internal/trader"
)

var (
	quoteEntry    float64
	quoteStop     float64
	quoteStopType string
	historySymbol string
	historyLimit  int
)

var quoteCmd = &cobra.Command{
	Use:   "quote SYMBOL",
	Short: "Suggest units and leverage for a trade",
	Long: `Size a trade from the live unused margin without placing any order.

Example:
  assistant quote BTCUSDT --stop 2
  assistant quote ETHUSDT --entry 3000 --stop 2940 --stop-type price`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) (interface{}, error) {
			return a.engine.Quote(cmd.Context(), trader.QuoteRequest{
				Symbol:     args[0],
				EntryPrice: quoteEntry,
				StopLoss:   trader.StopLoss{Type: risk.StopType(quoteStopType), Value: quoteStop},
			})
		})
	},
}

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List open positions with their orders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) (interface{}, error) {
			return a.engine.OpenPositions(cmd.Context())
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent fills, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) (interface{}, error) {
			return a.engine.TradeHistory(cmd.Context(), historySymbol, historyLimit)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show today's trade counters",
	Long: `Show today's trade counters against the daily and per-symbol caps.
With the memory store the counters only cover the current process.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) (interface{}, error) {
			return a.engine.TodayStats(cmd.Context())
		})
	},
}

var stopLossCmd = &cobra.Command{
	Use:   "stop-loss SYMBOL DELTA_PERCENT",
	Short: "Move the stop-loss of an open position relative to its entry",
	Long: `Move the stop-loss to entry*(1+delta%) for longs and entry*(1-delta%) for shorts.

Example:
  assistant stop-loss BTCUSDT -0.5`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		delta, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid delta %q: %w", args[1], err)
		}
		return withApp(func(a *app) (interface{}, error) {
			return a.engine.UpdateStopLoss(cmd.Context(), args[0], delta)
		})
	},
}

var closeCmd = &cobra.Command{
	Use:   "close SYMBOL",
	Short: "Market-close an open position and cancel its orders",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) (interface{}, error) {
			return a.engine.ClosePosition(cmd.Context(), args[0])
		})
	},
}

func init() {
	rootCmd.AddCommand(quoteCmd, positionsCmd, historyCmd, statsCmd, stopLossCmd, closeCmd)

	quoteCmd.Flags().Float64Var(&quoteEntry, "entry", 0, "entry price (default: live price)")
	quoteCmd.Flags().Float64Var(&quoteStop, "stop", 0, "stop-loss value, 0 for no stop")
	quoteCmd.Flags().StringVar(&quoteStopType, "stop-type", string(risk.StopPercent), "stop-loss type: percent or price")

	historyCmd.Flags().StringVar(&historySymbol, "symbol", "", "only fills of this symbol")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "maximum number of fills (default: trading.history_limit)")
}

// withApp builds the engine, runs fn and prints its result as indented JSON.
func withApp(fn func(a *app) (interface{}, error)) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	v, err := fn(a)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
