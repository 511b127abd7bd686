package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/filterforge/filterforge/internal/config"
	"github.com/filterforge/filterforge/internal/hash"
	"github.com/filterforge/filterforge/internal/logging"
	"github.com/filterforge/filterforge/internal/orchestrator"
)

const timeRounding = 10 * time.Millisecond

// compileCmd represents the compile command
var compileCmd = &cobra.Command{
	Use:     "compile",
	Aliases: []string{"c"},
	Short:   "Compile the configured sources into one filter list",
	Long: `Compile loads the workload configuration, acquires read locks on local
source files, compiles the sources (chunked in parallel when the workload
is large enough), merges the results with deduplication, and writes the
final artifact.

The run aborts when a validation handler reports a Critical finding or when
a locked source file is modified during compilation.

Examples:
  filterforge compile                        # Compile using .filterforge.yml
  filterforge compile -o dist/filter.txt     # Override the output path
  filterforge compile --max-parallel 8       # Raise the concurrency budget
  filterforge compile --no-chunking          # Force a single compiler pass`,
	RunE: runCompileCommand,
}

func init() {
	rootCmd.AddCommand(compileCmd)

	compileCmd.Flags().StringP("output", "o", "", "output file path (default from config, filter.txt)")
	compileCmd.Flags().Int("max-parallel", 0, "maximum concurrent chunk compilations")
	compileCmd.Flags().Bool("no-chunking", false, "disable chunked compilation")
	_ = viper.BindPFlag("output.path", compileCmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("chunking.max_parallel", compileCmd.Flags().Lookup("max-parallel"))
}

func runCompileCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if noChunking, _ := cmd.Flags().GetBool("no-chunking"); noChunking {
		disabled := false
		cfg.Chunking.Enabled = &disabled
	}

	logger := newLogger(cfg)
	orch := orchestrator.New(cfg, orchestrator.Options{Logger: logger})
	report := orch.Run(cmd.Context())

	printReport(cmd, report)

	if report.Err != nil {
		if report.Aborted() {
			return fmt.Errorf("compilation aborted: %w", report.Err)
		}
		return fmt.Errorf("compilation failed: %w", report.Err)
	}
	return nil
}

func newLogger(cfg *config.Config) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
}

func printReport(cmd *cobra.Command, report *orchestrator.Report) {
	out := cmd.OutOrStdout()

	switch {
	case report.Err != nil:
		fmt.Fprintf(out, "Result: %s\n", report.State)
	default:
		fmt.Fprintf(out, "Compiled %d rules in %s\n", report.RuleCount, report.Duration.Round(timeRounding))
		if report.OutputPath != "" {
			fmt.Fprintf(out, "Output:  %s (sha384 %s)\n", report.OutputPath, hash.Short(report.Digest, 16))
		}
		if report.Chunked {
			fmt.Fprintf(out, "Chunks:  %d (estimated speedup %.2fx)\n", report.ChunkCount, report.EstimatedSpeedup)
		}
		if report.DuplicatesRemoved > 0 {
			fmt.Fprintf(out, "Removed %d duplicate rules\n", report.DuplicatesRemoved)
		}
	}

	for _, s := range report.SkippedSources {
		fmt.Fprintf(out, "Skipped: %s (%s)\n", s.Source.Label(), s.Reason)
	}
	for _, f := range report.Findings {
		fmt.Fprintf(out, "Finding [%s] %s: %s\n", f.Severity, f.Code, f.Message)
	}
}
