package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/qualityloop/internal/config"
)

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter qualityloop.yaml",
		Long:  "Creates the project directory, a starter config and the local state directory.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(cmd.OutOrStdout(), dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing "+config.FileName)
	return cmd
}

func runInit(out io.Writer, dir string, force bool) error {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(out, "Initializing qualityloop project in %s\n", dir)

	for _, d := range []string{dir, filepath.Join(dir, ".qualityloop", "artifacts")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	configPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}
	if err := os.WriteFile(configPath, []byte(config.Sample), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	_, _ = color.New(color.FgGreen).Fprintf(out, "  ✓ Wrote %s\n", configPath)

	fmt.Fprintln(out)
	_, _ = bold.Fprintln(out, "Next steps:")
	if dir != "." {
		fmt.Fprintf(out, "  cd %s\n", dir)
	}
	fmt.Fprintln(out, "  qualityloop serve")
	fmt.Fprintln(out, "  qualityloop status")
	return nil
}
