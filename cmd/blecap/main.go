package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/srg/blecap/internal/link"
	"github.com/srg/blecap/pkg/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "blecap",
	Short: "CapSense touch sensor to BLE notification bridge",
	Long: `Runs a CapSense touch sensor (two buttons and a slider) behind a BLE GATT
server that notifies a subscribed client of every touch, and drives a
dimmable LED plus a status LED that follows the advertising state.

- run:    start the device, serving ATT over stdio or a PTY
- replay: run a scripted scenario and check the device output
- db:     print the GATT attribute table`,
	Version: formatVersion(version),
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
	rootCmd.SetVersionTemplate(fmt.Sprintf("blecap {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(dbCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}

// FormatUserError trims wrapped errors down to something actionable.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, config.ErrInvalidConfig):
		return fmt.Sprintf("configuration rejected: %v", err)
	case errors.Is(err, link.ErrAdvertisingRestartFailed):
		return fmt.Sprintf("device halted, it can no longer be discovered: %v", err)
	default:
		return err.Error()
	}
}
