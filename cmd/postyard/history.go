package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/postyard/internal/config"
	"github.com/zulandar/postyard/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		runID      string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs, or the attempts of one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, configPath, limit, runID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "postyard.yaml", "path to Postyard config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().StringVar(&runID, "run", "", "show the attempts of this run")
	return cmd
}

func runHistory(cmd *cobra.Command, configPath string, limit int, runID string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.History.Driver == "" {
		return fmt.Errorf("history is disabled (set history.driver in %s)", configPath)
	}
	svc, err := openServices(&config.Config{History: cfg.History})
	if err != nil {
		return err
	}
	defer svc.close()

	if runID != "" {
		return printAttempts(cmd, svc.history, runID)
	}

	runs, err := svc.history.RecentRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tACCOUNT\tSTATUS\tPOSTED\tFAILED\tSKIPPED\tTOTAL")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Username, r.Status,
			r.Posted, r.Failed, r.Skipped, r.Total)
	}
	return w.Flush()
}

func printAttempts(cmd *cobra.Command, store *history.Store, runID string) error {
	out := cmd.OutOrStdout()
	run, err := store.GetRun(cmd.Context(), runID)
	if err != nil {
		return err
	}
	attempts, err := store.Attempts(cmd.Context(), run.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run %s (%s): %s\n", run.ID, run.Username, run.Status)
	if run.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", run.Error)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tFILE\tOUTCOME\tDETAIL")
	for _, a := range attempts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.CreatedAt.Local().Format(time.TimeOnly), a.Filename, a.Outcome, a.Detail)
	}
	return w.Flush()
}
