package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show loop status, counters and per-spectrum quality",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), newAPIClient(addr))
		},
	}
	addrFlag(cmd, &addr)
	return cmd
}

func runStatus(ctx context.Context, out io.Writer, c *apiClient) error {
	ctx, cancel := context.WithTimeout(orBackground(ctx), clientTimeout)
	defer cancel()

	var report types.StatusReport
	code, err := c.do(ctx, http.MethodGet, "/api/status", nil, &report)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("status: HTTP %d", code)
	}
	printStatus(out, report)
	return nil
}

func printStatus(out io.Writer, r types.StatusReport) {
	bold := color.New(color.Bold)

	state := color.RedString("STOPPED")
	if r.MonitoringActive {
		state = color.GreenString("ACTIVE")
	}
	_, _ = bold.Fprintf(out, "Monitoring: ")
	fmt.Fprintf(out, "%s  (as of %s)\n", state, r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(out, "  Current quality: %.4f\n", r.Counters.CurrentQuality)

	fmt.Fprintln(out)
	_, _ = bold.Fprintln(out, "Counters:")
	c := r.Counters
	rows := []struct {
		name string
		v    int64
	}{
		{"samples processed", c.SamplesProcessed},
		{"samples rejected", c.SamplesRejected},
		{"checks performed", c.ChecksPerformed},
		{"alerts delivered", c.AlertsDelivered},
		{"alerts suppressed", c.AlertsSuppressed},
		{"optimizations triggered", c.OptimizationsTriggered},
		{"optimizations failed", c.OptimizationsFailed},
		{"deployments completed", c.DeploymentsCompleted},
		{"rollbacks executed", c.RollbacksExecuted},
		{"ab tests started", c.ABTestsStarted},
	}
	for _, row := range rows {
		fmt.Fprintf(out, "  %-25s %d\n", row.name, row.v)
	}

	if len(r.Spectra) > 0 {
		fmt.Fprintln(out)
		_, _ = bold.Fprintln(out, "Spectra:")
		names := make([]string, 0, len(r.Spectra))
		for s := range r.Spectra {
			names = append(names, s)
		}
		sort.Strings(names)
		for _, s := range names {
			st := r.Spectra[s]
			opt := ""
			if st.Optimizing {
				opt = color.CyanString(" optimizing")
			}
			fmt.Fprintf(out, "  %-20s %-20s mean=%.4f samples=%d success=%.2f%s\n",
				s, bandString(st.Band), st.Mean, st.Samples, st.SuccessRate, opt)
		}
	}

	fmt.Fprintln(out)
	_, _ = bold.Fprintln(out, "Components:")
	names := make([]string, 0, len(r.ComponentHealth))
	for n := range r.ComponentHealth {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if r.ComponentHealth[n] {
			fmt.Fprintf(out, "  %s %s\n", color.GreenString("✓"), n)
		} else {
			fmt.Fprintf(out, "  %s %s\n", color.RedString("✗"), n)
		}
	}
}

func bandString(b types.QualityBand) string {
	s := string(b)
	switch b {
	case types.BandCritical:
		return color.RedString(s)
	case types.BandWarning, types.BandAcceptable:
		return color.YellowString(s)
	case "":
		return color.YellowString("no data")
	default:
		return color.GreenString(s)
	}
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
