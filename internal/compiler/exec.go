package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/filterforge/filterforge/internal/errors"
	"github.com/filterforge/filterforge/internal/logging"
)

// DefaultCompileTimeout bounds one external compiler invocation.
const DefaultCompileTimeout = 5 * time.Minute

// candidate binaries, in preference order.
var compilerCommands = []string{"hostlist-compiler"}

// npx fallback invocation when no binary is on PATH.
const (
	npxCommand = "npx"
	npxPackage = "@adguard/hostlist-compiler"
)

// ExecCompiler invokes the external hostlist compiler binary once per
// configuration: it writes the config to a temp JSON file, runs the binary
// with a bounded timeout, and reads back the produced rule lines.
type ExecCompiler struct {
	timeout time.Duration
	logger  logging.Logger
	// lookPath is swappable for tests.
	lookPath func(string) (string, error)
}

// NewExecCompiler creates an exec-backed compiler. A nil logger falls back
// to a no-op.
func NewExecCompiler(logger logging.Logger) *ExecCompiler {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &ExecCompiler{
		timeout:  DefaultCompileTimeout,
		logger:   logger.WithComponent("compiler"),
		lookPath: exec.LookPath,
	}
}

// WithTimeout overrides the per-invocation timeout.
func (c *ExecCompiler) WithTimeout(d time.Duration) *ExecCompiler {
	c.timeout = d
	return c
}

// command resolves the compiler command line for the given config and output
// paths.
func (c *ExecCompiler) command(configPath, outputPath string) ([]string, error) {
	for _, name := range compilerCommands {
		if path, err := c.lookPath(name); err == nil {
			return []string{path, "--config", configPath, "--output", outputPath}, nil
		}
	}
	if path, err := c.lookPath(npxCommand); err == nil {
		return []string{path, npxPackage, "--config", configPath, "--output", outputPath}, nil
	}
	return nil, errors.NewCompileError(errors.ErrCodeCompilerNotFound,
		fmt.Sprintf("no compiler found in PATH (tried %s, %s)",
			strings.Join(compilerCommands, ", "), npxCommand), nil)
}

// validateArgs rejects arguments with shell metacharacters or traversal
// sequences before anything is executed.
func validateArgs(args []string) error {
	dangerous := []string{";", "&", "|", "$", "`", "<", ">"}
	for _, arg := range args {
		for _, ch := range dangerous {
			if strings.Contains(arg, ch) {
				return errors.NewCompileError(errors.ErrCodeCompileFailed,
					fmt.Sprintf("argument %q contains dangerous character %q", arg, ch), nil)
			}
		}
	}
	return nil
}

// Compile implements Compiler.
func (c *ExecCompiler) Compile(ctx context.Context, cfg Config) ([]string, error) {
	configFile, err := os.CreateTemp("", "forge-config-*.json")
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeSourceRead, "create temp config", err)
	}
	configPath := configFile.Name()
	defer os.Remove(configPath)

	outputFile, err := os.CreateTemp("", "forge-output-*.txt")
	if err != nil {
		configFile.Close()
		return nil, errors.NewIOError(errors.ErrCodeSourceRead, "create temp output", err)
	}
	outputPath := outputFile.Name()
	outputFile.Close()
	// The compiler must create the output file itself; an exit-zero run
	// that writes nothing surfaces as a missing file below.
	os.Remove(outputPath)
	defer os.Remove(outputPath)

	enc := json.NewEncoder(configFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		configFile.Close()
		return nil, errors.NewInternalError(errors.ErrCodeInternal, "encode compiler config", err)
	}
	if err := configFile.Close(); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeSourceRead, "close temp config", err)
	}

	args, err := c.command(configPath, outputPath)
	if err != nil {
		return nil, err
	}
	if err := validateArgs(args); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debug(ctx, "invoking external compiler",
		"command", args[0], "config", configPath, "sources", len(cfg.Sources))

	start := time.Now()
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = filepath.Dir(configPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, errors.NewCompileError(errors.ErrCodeCompileTimeout,
				fmt.Sprintf("compiler timed out after %s", c.timeout), err)
		}
		return nil, errors.NewCompileError(errors.ErrCodeCompileFailed,
			fmt.Sprintf("compiler failed: %s", strings.TrimSpace(string(out))), err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, errors.NewCompileError(errors.ErrCodeOutputMissing,
			"compiler produced no output file", err)
	}

	lines := splitLines(string(data))
	c.logger.Debug(ctx, "external compiler finished",
		"lines", len(lines), "duration", time.Since(start))
	return lines, nil
}

// splitLines splits compiler output into lines, tolerating CRLF endings and
// dropping exactly one trailing newline.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// CountRules returns the number of dedup-eligible rule lines (non-empty,
// non-comment) in lines.
func CountRules(lines []string) int {
	count := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "!") || strings.HasPrefix(trimmed, "#") {
			continue
		}
		count++
	}
	return count
}
