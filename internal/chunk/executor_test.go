package chunk

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filterforge/filterforge/internal/compiler"
	"github.com/filterforge/filterforge/internal/errors"
	"github.com/filterforge/filterforge/internal/events"
	"github.com/filterforge/filterforge/internal/logging"
)

// chunkCompiler fabricates one rule line per source and fails any chunk
// containing a source whose origin is "fail".
type chunkCompiler struct {
	mu         sync.Mutex
	calls      int32
	concurrent int32
	peak       int32
	delay      time.Duration
}

func (f *chunkCompiler) Compile(ctx context.Context, cfg compiler.Config) ([]string, error) {
	atomic.AddInt32(&f.calls, 1)
	cur := atomic.AddInt32(&f.concurrent, 1)
	defer atomic.AddInt32(&f.concurrent, -1)

	f.mu.Lock()
	if cur > f.peak {
		f.peak = cur
	}
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	lines := make([]string, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		if s.Origin == "fail" {
			return nil, errors.NewCompileError("ERR_COMPILE_FAILED", "compiler exited with status 1", nil)
		}
		lines = append(lines, "||"+s.Origin+"^")
	}
	return lines, nil
}

func newTestExecutor(c compiler.Compiler) (*Executor, *events.Dispatcher) {
	d := events.NewDispatcher(logging.NopLogger{})
	e := NewExecutor(c, d, logging.NopLogger{}, compiler.Config{Name: "workload"})
	return e, d
}

func TestExecuteAllNoChunks(t *testing.T) {
	e, _ := newTestExecutor(&chunkCompiler{})
	res, err := e.ExecuteAll(context.Background(), nil, 4)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestExecuteAllSuccess(t *testing.T) {
	comp := &chunkCompiler{}
	e, _ := newTestExecutor(comp)

	chunks := Plan(sources(6), 3)
	res, err := e.ExecuteAll(context.Background(), chunks, 3)

	require.NoError(t, err)
	require.Len(t, res, 3)
	for i, r := range res {
		assert.Equal(t, i, r.Index)
		assert.True(t, r.Success)
		assert.Len(t, r.Lines, 2)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&comp.calls))
}

func TestExecuteAllResultsInChunkOrder(t *testing.T) {
	comp := &chunkCompiler{delay: 5 * time.Millisecond}
	e, _ := newTestExecutor(comp)

	chunks := Plan(sources(8), 4)
	res, err := e.ExecuteAll(context.Background(), chunks, 4)

	require.NoError(t, err)
	require.Len(t, res, len(chunks))
	for i, r := range res {
		assert.Equal(t, i, r.Index)
	}
}

func TestExecuteAllBoundsConcurrency(t *testing.T) {
	comp := &chunkCompiler{delay: 10 * time.Millisecond}
	e, _ := newTestExecutor(comp)

	chunks := Plan(sources(8), 2)
	_, err := e.ExecuteAll(context.Background(), chunks, 2)

	require.NoError(t, err)
	assert.LessOrEqual(t, comp.peak, int32(2))
}

func TestExecuteAllOneFailureAmongConcurrentSiblings(t *testing.T) {
	// One of three concurrent chunks fails: the other two run to
	// completion, and the caller sees exactly one aggregate error naming
	// only the failing index, with no partial results.
	comp := &chunkCompiler{delay: 5 * time.Millisecond}
	e, d := newTestExecutor(comp)

	var completed []events.ChunkCompletedArgs
	d.AddHandler(&events.Handler{
		Name: "recorder",
		OnChunkCompleted: func(args *events.ChunkCompletedArgs) {
			completed = append(completed, *args)
		},
	})

	src := sources(3)
	src[1].Origin = "fail"
	chunks := Plan(src, 3)
	require.Len(t, chunks, 3)

	res, err := e.ExecuteAll(context.Background(), chunks, 3)

	require.Error(t, err)
	assert.Nil(t, res)

	var agg *errors.AggregateChunkError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, []int{1}, agg.Indices())

	// Siblings of the failing chunk still completed and reported.
	assert.Equal(t, int32(3), atomic.LoadInt32(&comp.calls))
	require.Len(t, completed, 3)
	assert.True(t, completed[0].Success)
	assert.False(t, completed[1].Success)
	assert.NotEmpty(t, completed[1].ErrorMessage)
	assert.True(t, completed[2].Success)
}

func TestExecuteAllMultipleFailuresAggregated(t *testing.T) {
	comp := &chunkCompiler{}
	e, _ := newTestExecutor(comp)

	src := sources(3)
	src[0].Origin = "fail"
	src[2].Origin = "fail"
	chunks := Plan(src, 3)

	_, err := e.ExecuteAll(context.Background(), chunks, 3)

	var agg *errors.AggregateChunkError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, []int{0, 2}, agg.Indices())
}

func TestExecuteAllStopsAfterFailingBatch(t *testing.T) {
	comp := &chunkCompiler{}
	e, _ := newTestExecutor(comp)

	src := sources(4)
	src[0].Origin = "fail"
	chunks := Plan(src, 2) // two batches of one chunk each at maxParallel=1

	_, err := e.ExecuteAll(context.Background(), chunks, 1)

	require.Error(t, err)
	// The second batch never launched.
	assert.Equal(t, int32(1), atomic.LoadInt32(&comp.calls))
}

func TestExecuteAllHandlerSkipsChunk(t *testing.T) {
	comp := &chunkCompiler{}
	e, d := newTestExecutor(comp)

	d.AddHandler(&events.Handler{
		Name: "skipper",
		OnChunkStarted: func(args *events.ChunkStartedArgs) {
			if args.ChunkIndex == 0 {
				args.Skip = true
			}
		},
	})

	chunks := Plan(sources(4), 2)
	res, err := e.ExecuteAll(context.Background(), chunks, 2)

	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.True(t, res[0].Skipped)
	assert.Empty(t, res[0].Lines)
	assert.False(t, res[1].Skipped)
	assert.Equal(t, int32(1), atomic.LoadInt32(&comp.calls))
}

func TestExecuteAllChunkStartedBeforeCompleted(t *testing.T) {
	comp := &chunkCompiler{}
	e, d := newTestExecutor(comp)

	var order []string
	d.AddHandler(&events.Handler{
		Name: "tracer",
		OnChunkStarted: func(args *events.ChunkStartedArgs) {
			order = append(order, "started")
		},
		OnChunkCompleted: func(args *events.ChunkCompletedArgs) {
			order = append(order, "completed")
		},
	})

	chunks := Plan(sources(2), 2)
	_, err := e.ExecuteAll(context.Background(), chunks, 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"started", "started", "completed", "completed"}, order)
}

func TestEstimatedSpeedup(t *testing.T) {
	results := []Result{
		{Duration: 3 * time.Second},
		{Duration: 3 * time.Second},
		{Duration: 2 * time.Second},
	}
	assert.InDelta(t, 2.0, EstimatedSpeedup(results, 4*time.Second), 0.001)
	assert.Equal(t, 1.0, EstimatedSpeedup(results, 0))
	assert.Equal(t, 1.0, EstimatedSpeedup(nil, time.Second))
}
