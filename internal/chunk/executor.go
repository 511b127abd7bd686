package chunk

import (
	"context"
	"sync"
	"time"

	"github.com/filterforge/filterforge/internal/compiler"
	"github.com/filterforge/filterforge/internal/errors"
	"github.com/filterforge/filterforge/internal/events"
	"github.com/filterforge/filterforge/internal/logging"
)

// Result is the outcome of compiling one chunk. Results are consumed by the
// merge engine and discarded afterwards.
type Result struct {
	Index    int
	Success  bool
	Skipped  bool
	Lines    []string
	Duration time.Duration
	Err      error
}

// Executor runs chunks in sequential batches of bounded concurrency,
// emitting chunk lifecycle events around the opaque compile collaborator.
type Executor struct {
	compiler   compiler.Compiler
	dispatcher *events.Dispatcher
	logger     logging.Logger
	baseConfig compiler.Config
}

// NewExecutor creates a chunk executor. The base config supplies the
// workload-level fields (name, transformations) copied into every chunk
// configuration. Nil dispatcher and logger fall back to no-ops.
func NewExecutor(c compiler.Compiler, dispatcher *events.Dispatcher, logger logging.Logger, base compiler.Config) *Executor {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if dispatcher == nil {
		dispatcher = events.NewDispatcher(logging.NopLogger{})
	}
	return &Executor{
		compiler:   c,
		dispatcher: dispatcher,
		logger:     logger.WithComponent("executor"),
		baseConfig: base,
	}
}

// ExecuteAll compiles chunks in sequential batches of at most maxParallel
// concurrent invocations. Batch N+1 never starts before batch N fully
// completes. A failing chunk never aborts its siblings; once the failing
// batch has settled, ExecuteAll returns one aggregate error naming every
// failed chunk index and no results at all.
//
// ChunkStarted events are raised before the batch launches, so handler
// delivery stays deterministic; a handler-set skip flag excludes the chunk
// from compilation. ChunkCompleted events are raised after the batch
// settles, in chunk-index order regardless of completion order.
func (e *Executor) ExecuteAll(ctx context.Context, chunks []Chunk, maxParallel int) ([]Result, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if maxParallel < 1 {
		maxParallel = 1
	}

	results := make([]Result, 0, len(chunks))
	var failures []errors.ChunkFailure

	totalBatches := ceilDiv(len(chunks), maxParallel)
	for batchStart := 0; batchStart < len(chunks); batchStart += maxParallel {
		batchEnd := min(batchStart+maxParallel, len(chunks))
		batch := chunks[batchStart:batchEnd]

		e.logger.Info(ctx, "processing batch",
			"batch", batchStart/maxParallel+1,
			"total_batches", totalBatches,
			"chunks", len(batch))

		batchResults := e.runBatch(ctx, batch)

		for _, res := range batchResults {
			if res.Err != nil {
				failures = append(failures, errors.ChunkFailure{Index: res.Index, Err: res.Err})
			}
			results = append(results, res)
		}

		// Sibling telemetry for this batch is complete; surface the
		// failures before starting the next batch.
		if len(failures) > 0 {
			return nil, errors.NewAggregateChunkError(failures)
		}
	}

	return results, nil
}

// runBatch compiles one batch concurrently and returns its results in
// chunk order.
func (e *Executor) runBatch(ctx context.Context, batch []Chunk) []Result {
	results := make([]Result, len(batch))

	// Decide skips up front: event handlers run on the caller goroutine,
	// one event at a time, in registration order.
	skip := make([]bool, len(batch))
	for i, c := range batch {
		args := &events.ChunkStartedArgs{
			Timestamp:   time.Now(),
			ChunkIndex:  c.Index,
			TotalChunks: c.Total,
			SourceCount: len(c.Sources),
		}
		e.dispatcher.RaiseChunkStarted(ctx, args)
		skip[i] = args.Skip
	}

	var wg sync.WaitGroup
	for i, c := range batch {
		if skip[i] {
			results[i] = Result{Index: c.Index, Success: true, Skipped: true}
			continue
		}

		wg.Add(1)
		go func(slot int, c Chunk) {
			defer wg.Done()
			results[slot] = e.compileChunk(ctx, c)
		}(i, c)
	}
	wg.Wait()

	// ChunkCompleted is raised post-settle in index order so merge-order
	// guarantees extend to event observers.
	for i, c := range batch {
		if skip[i] {
			continue
		}
		res := results[i]
		args := &events.ChunkCompletedArgs{
			Timestamp:   time.Now(),
			ChunkIndex:  c.Index,
			TotalChunks: c.Total,
			Success:     res.Success,
			RuleCount:   compiler.CountRules(res.Lines),
			Duration:    res.Duration,
		}
		if res.Err != nil {
			args.ErrorMessage = res.Err.Error()
		}
		e.dispatcher.RaiseChunkCompleted(ctx, args)
	}

	return results
}

func (e *Executor) compileChunk(ctx context.Context, c Chunk) Result {
	start := time.Now()

	cfg := e.baseConfig
	cfg.Name = c.Label
	if e.baseConfig.Name != "" {
		cfg.Name = e.baseConfig.Name + " (" + c.Label + ")"
	}
	cfg.Sources = c.Sources

	lines, err := e.compiler.Compile(ctx, cfg)
	res := Result{
		Index:    c.Index,
		Duration: time.Since(start),
		Lines:    lines,
		Success:  err == nil,
		Err:      err,
	}

	if err != nil {
		e.logger.Error(ctx, err, "chunk failed",
			"chunk", c.Index, "total", c.Total, "duration", res.Duration)
	} else {
		e.logger.Info(ctx, "chunk complete",
			"chunk", c.Index, "total", c.Total,
			"lines", len(lines), "duration", res.Duration)
	}
	return res
}

// EstimatedSpeedup returns serial-equivalent time divided by observed wall
// time: the factor the chunked run gained over sequential compilation.
func EstimatedSpeedup(results []Result, wall time.Duration) float64 {
	if wall <= 0 || len(results) == 0 {
		return 1.0
	}
	var serial time.Duration
	for _, r := range results {
		serial += r.Duration
	}
	if serial <= 0 {
		return 1.0
	}
	return float64(serial) / float64(wall)
}
