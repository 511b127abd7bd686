// Package chunk implements the chunked parallel compilation scheduler: it
// partitions a source workload into balanced chunks and executes them with
// bounded concurrency in sequential batches.
package chunk

import (
	"fmt"
	"runtime"

	"github.com/filterforge/filterforge/internal/types"
)

// Strategy selects how sources are split into chunks.
type Strategy string

const (
	// StrategySource splits by distributing whole sources across chunks.
	StrategySource Strategy = "source"
	// StrategyLineCount is reserved; splitting by line counts falls back to
	// StrategySource until the external compiler can compile partial
	// sources.
	StrategyLineCount Strategy = "line_count"
)

// Options configures chunked compilation. Enabled is a tri-state: nil means
// "decide heuristically", an explicit false always disables chunking.
type Options struct {
	Enabled     *bool    `mapstructure:"enabled"`
	ChunkSize   int      `mapstructure:"chunk_size"`
	MaxParallel int      `mapstructure:"max_parallel"`
	Strategy    Strategy `mapstructure:"strategy"`
}

// DefaultOptions returns chunking options with the heuristic enabled and
// parallelism matching the machine. Parallelism is explicit configuration,
// not read ambiently by the planner.
func DefaultOptions() Options {
	return Options{
		ChunkSize:   100_000,
		MaxParallel: max(1, runtime.NumCPU()),
		Strategy:    StrategySource,
	}
}

// Chunk is one independently compilable partition of the source workload.
type Chunk struct {
	Index   int
	Total   int
	Label   string
	Sources []types.Source
}

// ShouldChunk decides whether chunked compilation engages for the workload.
// An explicit Enabled=false always wins; explicit true always engages;
// otherwise chunking engages heuristically for multi-source workloads under
// the source strategy.
func ShouldChunk(sources []types.Source, opts Options) bool {
	if len(sources) == 0 {
		return false
	}
	if opts.Enabled != nil {
		return *opts.Enabled
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategySource
	}
	return strategy == StrategySource && len(sources) > 1
}

// Plan partitions sources into contiguous, balanced chunks under the given
// concurrency budget. Sources are assigned in input order; chunk sizes
// differ by at most one. Zero sources yield zero chunks; one source yields
// exactly one chunk regardless of maxParallel.
func Plan(sources []types.Source, maxParallel int) []Chunk {
	n := len(sources)
	if n == 0 {
		return nil
	}
	if maxParallel < 1 {
		maxParallel = 1
	}

	perChunk := ceilDiv(n, maxParallel)
	total := ceilDiv(n, perChunk)

	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * perChunk
		end := min(start+perChunk, n)
		chunks = append(chunks, Chunk{
			Index:   i,
			Total:   total,
			Label:   fmt.Sprintf("chunk %d/%d", i+1, total),
			Sources: sources[start:end],
		})
	}
	return chunks
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
