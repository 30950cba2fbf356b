package main

import (
	"os"

	"futures-trade-assistant/cmd/assistant/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
