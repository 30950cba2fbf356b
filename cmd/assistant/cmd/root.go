package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Risk-sized order placement for Binance USDⓈ-M futures",
	Long: `Assistant sizes manual futures trades from a fixed account risk budget and places
the entry together with its stop-loss and take-profit orders.

Run "assistant serve" for the HTTP API, or use the read-only subcommands
(quote, positions, history, stats) from a terminal.

Credentials are read from BINANCE_API_KEY and BINANCE_API_SECRET.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs", "directory containing config.yml")
}
