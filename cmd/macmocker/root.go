package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Exit codes are part of the tool's contract with provisioning pipelines.
const (
	ExitOK     = 0 // every attempted test passed and the run completed
	ExitFailed = 1 // at least one failure, error or timeout, or the run aborted
	ExitFatal  = 2 // the run could not start: config, load or setup failure
)

var (
	configPath  string
	logLevelStr string

	logger *slog.Logger

	// exitCode is set by subcommands; Execute returns it to main.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "macmocker",
	Short: "Post-deployment verification runner",
	Long: `macmocker runs an ordered suite of verification tests against a freshly
deployed host and reports whether it is fit for service. Tests run strictly
one at a time, each bounded by its own timeout and by a global budget for
the whole run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(logLevelStr)}))
		slog.SetDefault(logger)
	},
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if logger == nil {
			logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
		}
		logger.Error("fatal", "error", err)
		return ExitFatal
	}
	return exitCode
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "macmocker.yaml", "path to the suite configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevelStr, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func parseLogLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
