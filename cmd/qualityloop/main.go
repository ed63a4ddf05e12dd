package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/qualityloop/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "qualityloop",
		Short: "Autonomous quality-control loop for LLM serving pipelines",
		Long: `qualityloop watches per-spectrum response-quality scores, raises alerts
when quality degrades, picks a remediation strategy from what has worked
before, and ships it behind readiness gates with snapshot-first rollback.
Every change lands in an append-only governance log that supports rollback
to the last known good state.`,
		Version:      version,
		SilenceUsage: true,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewServeCmd(version),
		commands.NewStatusCmd(),
		commands.NewTriggerCmd(),
		commands.NewRollbackCmd(),
		commands.NewHistoryCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
