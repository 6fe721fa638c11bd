package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/david-crosby/macmocker/internal/checks"
	"github.com/david-crosby/macmocker/internal/config"
	"github.com/david-crosby/macmocker/internal/engine"
	"github.com/david-crosby/macmocker/internal/history"
	"github.com/david-crosby/macmocker/internal/observability"
	"github.com/david-crosby/macmocker/internal/report"
)

var artifactsDirFlag string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the configured verification suite once",
	Long: `Run loads the suite configuration, executes every enabled test in order
and writes reports into a per-run artifacts directory. The process exits 0
only when every test passed, 1 when anything failed, errored, timed out or
the run was aborted, and 2 when the run could not start at all.`,
	RunE: runSuite,
}

func init() {
	runCmd.Flags().StringVar(&artifactsDirFlag, "artifacts-dir", "", "override the configured artifacts directory")
}

func runSuite(cmd *cobra.Command, args []string) error {
	rollbarEnabled, flush := observability.Setup(logger)
	defer flush()
	defer observability.CapturePanic(logger, rollbarEnabled)()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if artifactsDirFlag != "" {
		cfg.ArtifactsDir = artifactsDirFlag
	}

	eng, err := engine.New(cfg, checks.Defaults(), logger)
	if err != nil {
		return fmt.Errorf("load suite: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rr := eng.Run(ctx)
	stop()

	fmt.Fprint(cmd.OutOrStdout(), report.Render(rr))

	reporter := report.New(cfg.Reporting, logger)
	if _, _, err := reporter.WriteFiles(rr); err != nil {
		logger.Error("writing reports failed", "error", err)
	}

	// The signal context may already be canceled; notifications get their
	// own deadline so an interrupt still produces a delivered report.
	notifyCtx, cancel := context.WithTimeout(context.Background(), report.NotifyTimeout)
	defer cancel()
	reporter.Notify(notifyCtx, rr)

	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB, history.Options{})
		if err != nil {
			logger.Error("opening history database failed", "error", err)
		} else {
			if err := store.RecordRun(notifyCtx, rr); err != nil {
				logger.Error("recording run history failed", "error", err)
			}
			if err := store.Close(); err != nil {
				logger.Error("closing history database failed", "error", err)
			}
		}
	}

	if !rr.Summary().Clean() {
		exitCode = ExitFailed
	}
	return nil
}
