package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/picklr-io/strata/internal/runs"
)

var (
	runsLimit  int
	runsJSON   bool
	runsActive bool

	runsGCOlderThan time.Duration
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent invocations",
	Long: `Lists the invocations recorded in <project-dir>/.strata/runs.db, most recent first.
With --active only invocations that are still pending or running are shown.`,
	RunE: runRuns,
}

var runsGCCmd = &cobra.Command{
	Use:   "gc [run-id...]",
	Short: "Delete finished invocations from the history",
	Long: `Deletes the named invocations and every invocation that finished more than
--older-than ago. Pending and running invocations are never deleted.`,
	RunE: runRunsGC,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of invocations to show (0 for all)")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "Output in JSON format")
	runsCmd.Flags().BoolVar(&runsActive, "active", false, "Only show pending and running invocations")

	runsGCCmd.Flags().DurationVar(&runsGCOlderThan, "older-than", runs.DefaultGCSettings.MaxAge, "Delete invocations that finished longer ago than this (0 to only delete named ids)")
	runsCmd.AddCommand(runsGCCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	history, err := openHistory()
	if err != nil {
		return err
	}
	defer history.Close()

	limit := runsLimit
	if runsActive {
		limit = 0
	}
	rows, err := history.List(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if runsActive {
		rows = activeRows(rows, runsLimit)
	}

	out := cmd.OutOrStdout()
	if runsJSON {
		if rows == nil {
			rows = []runs.Row{}
		}
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal runs: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	printRows(out, rows)
	return nil
}

// activeRows keeps unfinished rows, at most limit of them when limit > 0.
func activeRows(rows []runs.Row, limit int) []runs.Row {
	var active []runs.Row
	for _, row := range rows {
		if row.State.Finished() {
			continue
		}
		active = append(active, row)
		if limit > 0 && len(active) == limit {
			break
		}
	}
	return active
}

func printRows(out io.Writer, rows []runs.Row) {
	now := time.Now()
	for _, row := range rows {
		elapsed := row.Elapsed
		if !row.State.Finished() && !row.Start.IsZero() {
			elapsed = now.Sub(row.Start)
		}
		fmt.Fprintf(out, "%s  %-8s %-8s %s  %s\n", row.ID, row.Method, row.State,
			row.Start.Local().Format(time.DateTime), elapsed.Round(time.Millisecond))
		if row.Error != "" {
			fmt.Fprintf(out, "    %s\n", row.Error)
		}
	}
}

func runRunsGC(cmd *cobra.Command, args []string) error {
	history, err := openHistory()
	if err != nil {
		return err
	}
	defer history.Close()

	req := runs.GCRequest{IDs: args}
	if runsGCOlderThan > 0 {
		req.Before = time.Now().Add(-runsGCOlderThan)
	}
	if len(req.IDs) == 0 && req.Before.IsZero() {
		return fmt.Errorf("nothing to delete: name run ids or set --older-than")
	}

	res, err := runs.NewRegistry(runs.WithHistory(history)).GC(cmd.Context(), req)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d runs from the history\n", res.HistoryDeleted)
	return nil
}
