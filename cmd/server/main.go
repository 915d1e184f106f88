package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "time/tzdata"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	cfgPath    string
	logLevel   string
	noColor    bool
	outputJSON bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "uebad",
		Short: "Record user activity and raise behavioural alerts",
		Long: `uebad records user activity events (logins, logouts, file access, failed
logins), runs the configured rules against every event as it is stored, and
raises alerts for off-hours logins and repeated login failures.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			var level slog.Level
			if err := level.UnmarshalText([]byte(strings.ToUpper(logLevel))); err != nil {
				return fmt.Errorf("--log-level: %w", err)
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to YAML config (built-in defaults when empty)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRecordCmd())
	root.AddCommand(newEventsCmd())
	root.AddCommand(newAlertsCmd())
	root.AddCommand(newStatsCmd())
	return root
}
