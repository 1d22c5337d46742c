package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
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

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ancsbridge",
	Short: "Bridge iOS notifications and media over Bluetooth LE",
	Long: `Connects to a paired iPhone over Bluetooth Low Energy and bridges:

- Notifications (ANCS): received, modified and canceled
- Incoming and ended calls
- Media playback data (AMS)
- Battery level of the phone

Events are printed as colored text on a terminal and as JSON lines otherwise.
The decode command parses captured ANCS/AMS payloads offline.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// main() prints errors itself
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(decodeCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} {{.Version}} (commit %s, built %s)\n", commit, date))
}
