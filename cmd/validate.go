package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/filterforge/filterforge/internal/config"
	"github.com/filterforge/filterforge/internal/types"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:     "validate",
	Aliases: []string{"v"},
	Short:   "Validate the workload configuration without compiling",
	Long: `Validate loads and checks the workload configuration: source origins,
chunking options, output path safety, and the existence and readability of
every local source file. Remote sources are reported but not fetched.

Examples:
  filterforge validate
  filterforge validate --config workloads/ads.yml`,
	RunE: runValidateCommand,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidateCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	problems := 0
	for i, src := range cfg.Sources {
		if err := checkSource(src); err != nil {
			problems++
			fmt.Fprintf(out, "✗ source %d (%s): %v\n", i, src.Label(), err)
			continue
		}
		kind := "remote"
		if src.IsLocal() {
			kind = "local"
		}
		fmt.Fprintf(out, "✓ source %d (%s): %s\n", i, kind, src.Label())
	}

	fmt.Fprintf(out, "%d sources, chunking max_parallel=%d, output=%s\n",
		len(cfg.Sources), cfg.Chunking.MaxParallel, cfg.Output.Path)

	if problems > 0 {
		return fmt.Errorf("configuration has %d invalid source(s)", problems)
	}
	fmt.Fprintln(out, "Configuration is valid")
	return nil
}

func checkSource(src types.Source) error {
	if !src.IsLocal() {
		return nil
	}
	info, err := os.Stat(src.Origin)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("is a directory, not a file")
	}
	return nil
}
