// Package merge reassembles chunk compilation outputs into a single filter
// list, preserving comments and blank lines while removing duplicate rules
// across chunk boundaries.
package merge

import (
	"context"
	"strings"
	"time"

	"github.com/filterforge/filterforge/internal/chunk"
	"github.com/filterforge/filterforge/internal/logging"
)

// ChunkTiming records how long one chunk took, for the speedup report.
type ChunkTiming struct {
	Index    int
	Duration time.Duration
	Lines    int
	Skipped  bool
}

// Result is the merged output of all chunks.
type Result struct {
	Lines             []string
	TotalInputLines   int
	DuplicatesRemoved int
	ChunkTimings      []ChunkTiming
}

// Engine merges chunk results in chunk-index order.
//
// Deduplication applies to rule lines only, keyed on the raw line text:
// the first occurrence survives, later identical lines are dropped.
// Comment lines and blank lines pass through verbatim and are never
// deduplicated, so two chunks each ending in a blank separator keep both
// separators.
type Engine struct {
	logger logging.Logger
}

// NewEngine creates a merge engine. A nil logger falls back to a no-op.
func NewEngine(logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Engine{logger: logger.WithComponent("merge")}
}

// Merge concatenates chunk outputs in ascending chunk index, dropping
// duplicate rules that already appeared in an earlier chunk (or earlier in
// the same chunk). Skipped chunks contribute no lines but still appear in
// the timing report.
func (e *Engine) Merge(ctx context.Context, results []chunk.Result) Result {
	merged := Result{
		ChunkTimings: make([]ChunkTiming, 0, len(results)),
	}
	seen := make(map[string]struct{})

	for _, res := range results {
		merged.ChunkTimings = append(merged.ChunkTimings, ChunkTiming{
			Index:    res.Index,
			Duration: res.Duration,
			Lines:    len(res.Lines),
			Skipped:  res.Skipped,
		})
		if res.Skipped {
			continue
		}

		merged.TotalInputLines += len(res.Lines)
		for _, line := range res.Lines {
			if IsComment(line) || IsBlank(line) {
				merged.Lines = append(merged.Lines, line)
				continue
			}
			if _, dup := seen[line]; dup {
				merged.DuplicatesRemoved++
				continue
			}
			seen[line] = struct{}{}
			merged.Lines = append(merged.Lines, line)
		}
	}

	e.logger.Info(ctx, "chunks merged",
		"chunks", len(results),
		"input_lines", merged.TotalInputLines,
		"output_lines", len(merged.Lines),
		"duplicates_removed", merged.DuplicatesRemoved)

	return merged
}

// IsComment reports whether a line is a filter-list comment. Both the
// AdBlock style ("!") and the hosts style ("#") are comments.
func IsComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "!") || strings.HasPrefix(trimmed, "#")
}

// IsBlank reports whether a line is empty or whitespace-only.
func IsBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}
