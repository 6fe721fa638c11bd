package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/david-crosby/macmocker/internal/config"
	"github.com/david-crosby/macmocker/internal/report"
)

var pruneDays int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove run artifacts older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		days := cfg.ArtifactsRetentionDays
		if pruneDays > 0 {
			days = pruneDays
		}
		removed, err := report.Prune(cfg.ArtifactsDir, days, logger)
		if err != nil {
			return fmt.Errorf("prune artifacts: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d run directories older than %d days\n", removed, days)
		return nil
	},
}

func init() {
	pruneCmd.Flags().IntVar(&pruneDays, "days", 0, "override the configured retention in days")
}
