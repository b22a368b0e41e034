// Command bleep is the BLEEP reconnaissance CLI: a thin cobra surface over
// internal/orchestrate's mode flows. No collection, classification, or
// persistence logic lives here — every subcommand builds a
// orchestrate.Context from pkg/config and delegates.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "bleep",
	Short: "Bluetooth Landscape Exploration & Enumeration Platform",
	Long: `BLEEP scans, enumerates, and classifies nearby Bluetooth devices
(BLE/GATT and Classic/SDP/OBEX) over the host BlueZ stack.

Scan modes:
  passive  one dedup'd snapshot of whatever is already advertising
  naggy    every advertisement forwarded, then GATT-enumerated
  pokey    on/off scan cycles targeting one MAC, plus SDP and write probes
  brute    half-LE/half-BR-EDR budget, brute_write_range against every
           writable characteristic`,
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(ctfCmd)
	rootCmd.AddCommand(devicesCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
}
