package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	var (
		addr     string
		clearLog bool
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the governance log, or clear it with --clear",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(addr)
			if clearLog {
				return runClearHistory(cmd.Context(), cmd.OutOrStdout(), c)
			}
			return runHistory(cmd.Context(), cmd.OutOrStdout(), c, limit)
		},
	}
	addrFlag(cmd, &addr)
	cmd.Flags().BoolVar(&clearLog, "clear", false, "Destructively clear the governance log")
	cmd.Flags().IntVar(&limit, "limit", 20, "Show at most this many recent entries (0 for all)")
	return cmd
}

func runHistory(ctx context.Context, out io.Writer, c *apiClient, limit int) error {
	ctx, cancel := context.WithTimeout(orBackground(ctx), clientTimeout)
	defer cancel()

	var resp types.HistoryResponse
	code, err := c.do(ctx, http.MethodGet, "/api/history", nil, &resp)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("history: HTTP %d", code)
	}

	bold := color.New(color.Bold)
	sum := resp.Summary
	_, _ = bold.Fprintln(out, "Governance summary:")
	fmt.Fprintf(out, "  changes tracked:    %d\n", sum.TotalChangesTracked)
	fmt.Fprintf(out, "  cycles completed:   %d\n", sum.CyclesCompleted)
	fmt.Fprintf(out, "  cycles failed:      %d\n", sum.CyclesFailed)
	if sum.RollbackAvailable && sum.LastKnownGoodState != nil {
		fmt.Fprintf(out, "  last known good:    %s\n", color.GreenString(sum.LastKnownGoodState.CycleID))
	} else {
		fmt.Fprintf(out, "  last known good:    %s\n", color.YellowString("none"))
	}

	entries := resp.Entries
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if len(entries) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	_, _ = bold.Fprintln(out, "Entries:")
	for _, e := range entries {
		kind := string(e.Type)
		switch e.Type {
		case types.EntryOptimizationFailure:
			kind = color.RedString(kind)
		case types.EntryRollbackExecution, types.EntryABTest:
			kind = color.YellowString(kind)
		case types.EntryOptimizationCycle:
			kind = color.GreenString(kind)
		}
		fmt.Fprintf(out, "  %s  %-28s %s %s changes=%d", e.Timestamp.Format(time.RFC3339), kind, e.CycleID, e.Spectrum, len(e.Improvements))
		if e.RolledBackTo != "" {
			fmt.Fprintf(out, " rolled_back_to=%s", e.RolledBackTo)
		}
		if e.Error != "" {
			fmt.Fprintf(out, " error=%q", e.Error)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func runClearHistory(ctx context.Context, out io.Writer, c *apiClient) error {
	ctx, cancel := context.WithTimeout(orBackground(ctx), clientTimeout)
	defer cancel()

	var resp types.ClearHistoryResponse
	code, err := c.do(ctx, http.MethodDelete, "/api/history", nil, &resp)
	if err != nil {
		return err
	}
	if code != http.StatusOK || !resp.Success {
		return fmt.Errorf("clear history: HTTP %d", code)
	}
	_, _ = color.New(color.FgYellow).Fprintf(out, "Cleared %d history entries\n", resp.ClearedCount)
	return nil
}
