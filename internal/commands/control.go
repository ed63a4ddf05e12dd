package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// NewTriggerCmd creates the trigger command.
func NewTriggerCmd() *cobra.Command {
	var addr, reason string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Request an optimization pass over every spectrum",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(cmd.Context(), cmd.OutOrStdout(), newAPIClient(addr), reason)
		},
	}
	addrFlag(cmd, &addr)
	cmd.Flags().StringVar(&reason, "reason", "manual", "Reason recorded with the trigger")
	return cmd
}

func runTrigger(ctx context.Context, out io.Writer, c *apiClient, reason string) error {
	ctx, cancel := context.WithTimeout(orBackground(ctx), clientTimeout)
	defer cancel()

	var resp types.TriggerResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/trigger", types.TriggerRequest{Reason: reason}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		_, _ = color.New(color.FgYellow).Fprintf(out, "Trigger rejected: %s\n", resp.Reason)
		return fmt.Errorf("trigger rejected")
	}
	_, _ = color.New(color.FgGreen).Fprintf(out, "✓ %s\n", resp.Reason)
	return nil
}

// NewRollbackCmd creates the rollback command.
func NewRollbackCmd() *cobra.Command {
	var addr, id string
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back to a cycle, or to the last known good state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollback(cmd.Context(), cmd.OutOrStdout(), newAPIClient(addr), id)
		},
	}
	addrFlag(cmd, &addr)
	cmd.Flags().StringVar(&id, "id", "", "Cycle id to restore (default: last known good)")
	return cmd
}

func runRollback(ctx context.Context, out io.Writer, c *apiClient, id string) error {
	ctx, cancel := context.WithTimeout(orBackground(ctx), clientTimeout)
	defer cancel()

	var res types.RollbackResult
	if _, err := c.do(ctx, http.MethodPost, "/api/rollback", types.RollbackRequest{RollbackID: id}, &res); err != nil {
		return err
	}
	if !res.Success {
		_, _ = color.New(color.FgRed).Fprintf(out, "✗ Rollback failed: %s\n", res.Error)
		return fmt.Errorf("rollback failed")
	}
	_, _ = color.New(color.FgGreen).Fprintf(out, "✓ Rolled back to %s (%d configurations changed)\n",
		res.RolledBackTo, res.ConfigurationsChanged)
	for _, d := range res.Details {
		fmt.Fprintf(out, "    %s\n", d)
	}
	return nil
}
