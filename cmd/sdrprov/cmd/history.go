package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sdrwatch/sdrprov/internal/journal"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent provisioning runs",
	Long:  "List recent runs from the run journal, newest first, with the actions each one took.",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of runs to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	plan, err := loadPlan()
	if err != nil {
		return fmt.Errorf("sdrprov history: %w", err)
	}

	w := cmd.OutOrStdout()
	store, err := journal.OpenReadOnly(plan.JournalPath)
	if errors.Is(err, journal.ErrNotFound) {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("sdrprov history: %w", err)
	}
	defer store.Close()

	runs, err := store.RecentRuns(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("sdrprov history: %w", err)
	}

	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(w, "#%d %s %s (%s) %s\n",
			r.ID, r.StartedAt.Local().Format(time.RFC3339), r.Status,
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second), r.Host)
		if r.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", r.Error)
		}
		for _, a := range r.Actions {
			fmt.Fprintf(w, "    %-9s %-13s %s\n", a.Step, a.Kind, a.Detail)
		}
	}
	return nil
}
