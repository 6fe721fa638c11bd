package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/david-crosby/macmocker/internal/config"
	"github.com/david-crosby/macmocker/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent run summaries from the history database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.HistoryDB == "" {
			return fmt.Errorf("no history_db configured in %s", configPath)
		}
		store, err := history.Open(cfg.HistoryDB, history.Options{})
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.RecentRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no recorded runs")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tSUITE\tPASSED\tFAILED\tERRORS\tTIMED OUT\tSKIPPED\tABORTED\tDURATION")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%d\t%d\t%d\t%v\t%s\n",
				rec.StartedAt.Local().Format(time.RFC3339), rec.Suite,
				rec.Passed, rec.Total, rec.Failed, rec.Errors, rec.TimedOut, rec.Skipped,
				rec.Aborted, rec.EndedAt.Sub(rec.StartedAt).Round(time.Second))
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "number of runs to show")
}
