package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/filterforge/filterforge/internal/logging"
)

// Handler bundles optional callbacks for the pipeline events. Leave a field
// nil to ignore that event. Callbacks receive the same mutable args value the
// dispatcher threads through every registered handler, so later handlers see
// earlier mutations (skip flags, appended findings, abort overrides) and the
// last written state wins.
type Handler struct {
	Name string

	OnCompilationStarted  func(*StartedArgs)
	OnConfigurationLoaded func(*ConfigurationLoadedArgs)
	OnValidation          func(*ValidationArgs)
	OnSourceLoading       func(*SourceLoadingArgs)
	OnSourceLoaded        func(*SourceLoadedArgs)
	OnLockAcquired        func(*LockAcquiredArgs)
	OnLockReleased        func(*LockReleasedArgs)
	OnLockFailed          func(*LockFailedArgs)
	OnChunkStarted        func(*ChunkStartedArgs)
	OnChunkCompleted      func(*ChunkCompletedArgs)
	OnChunksMerging       func(*ChunksMergingArgs)
	OnChunksMerged        func(*ChunksMergedArgs)
	OnCompilationComplete func(*CompletedArgs)
	OnCompilationError    func(*ErrorArgs)
}

func (h *Handler) name(i int) string {
	if h.Name != "" {
		return h.Name
	}
	return fmt.Sprintf("handler#%d", i)
}

// Dispatcher delivers pipeline events to registered handlers sequentially in
// registration order. Every handler always runs: cancel/skip/abort flags are
// decisions read by the caller after the full chain, not short-circuits. A
// panicking handler is recovered and logged, never fatal to the pipeline.
// Dispatcher state is scoped to one compilation run.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []*Handler
	logger   logging.Logger
}

// NewDispatcher creates a dispatcher. A nil logger falls back to a no-op.
func NewDispatcher(logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Dispatcher{logger: logger.WithComponent("events")}
}

// AddHandler registers a handler. Order of registration is the order of
// delivery for every event.
func (d *Dispatcher) AddHandler(h *Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// HandlerCount returns the number of registered handlers.
func (d *Dispatcher) HandlerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

func (d *Dispatcher) snapshot() []*Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Handler, len(d.handlers))
	copy(out, d.handlers)
	return out
}

// invoke runs one callback under a recover guard.
func (d *Dispatcher) invoke(ctx context.Context, event, handlerName string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(ctx, fmt.Errorf("handler panic: %v", r),
				"event handler failed",
				"event", event,
				"handler", handlerName)
		}
	}()
	fn()
}

// RaiseCompilationStarted delivers the CompilationStarted event. The caller
// reads the cancel flag after the full handler chain has run.
func (d *Dispatcher) RaiseCompilationStarted(ctx context.Context, args *StartedArgs) {
	for i, h := range d.snapshot() {
		if h.OnCompilationStarted == nil {
			continue
		}
		d.invoke(ctx, "CompilationStarted", h.name(i), func() { h.OnCompilationStarted(args) })
	}
	if args.Cancel {
		d.logger.Info(ctx, "compilation cancelled by handler", "reason", args.CancelReason)
	}
}

// RaiseConfigurationLoaded delivers the ConfigurationLoaded event.
func (d *Dispatcher) RaiseConfigurationLoaded(ctx context.Context, args *ConfigurationLoadedArgs) {
	for i, h := range d.snapshot() {
		if h.OnConfigurationLoaded == nil {
			continue
		}
		d.invoke(ctx, "ConfigurationLoaded", h.name(i), func() { h.OnConfigurationLoaded(args) })
	}
}

// RaiseValidation delivers a validation checkpoint event. All handlers run
// before the caller evaluates the accumulated findings; a Critical finding
// forces an abort regardless of per-handler intent.
func (d *Dispatcher) RaiseValidation(ctx context.Context, args *ValidationArgs) {
	d.logger.Debug(ctx, "raising validation checkpoint",
		"stage", args.StageName, "handlers", d.HandlerCount())
	for i, h := range d.snapshot() {
		if h.OnValidation == nil {
			continue
		}
		d.invoke(ctx, "Validation", h.name(i), func() { h.OnValidation(args) })
	}
	if args.Abort || args.HasCritical() {
		d.logger.Warn(ctx, nil, "validation checkpoint requests abort",
			"stage", args.StageName, "reason", args.AbortReason,
			"findings", len(args.Findings))
	}
}

// RaiseSourceLoading delivers the SourceLoading event. The caller reads the
// skip flag after the full handler chain has run.
func (d *Dispatcher) RaiseSourceLoading(ctx context.Context, args *SourceLoadingArgs) {
	for i, h := range d.snapshot() {
		if h.OnSourceLoading == nil {
			continue
		}
		d.invoke(ctx, "SourceLoading", h.name(i), func() { h.OnSourceLoading(args) })
	}
	if args.Skip {
		d.logger.Info(ctx, "source skipped by handler",
			"source", args.Origin, "reason", args.SkipReason)
	}
}

// RaiseSourceLoaded delivers the SourceLoaded event. Informational.
func (d *Dispatcher) RaiseSourceLoaded(ctx context.Context, args *SourceLoadedArgs) {
	for i, h := range d.snapshot() {
		if h.OnSourceLoaded == nil {
			continue
		}
		d.invoke(ctx, "SourceLoaded", h.name(i), func() { h.OnSourceLoaded(args) })
	}
}

// RaiseLockAcquired delivers the FileLockAcquired event. Informational.
func (d *Dispatcher) RaiseLockAcquired(ctx context.Context, args *LockAcquiredArgs) {
	for i, h := range d.snapshot() {
		if h.OnLockAcquired == nil {
			continue
		}
		d.invoke(ctx, "FileLockAcquired", h.name(i), func() { h.OnLockAcquired(args) })
	}
}

// RaiseLockReleased delivers the FileLockReleased event. Informational.
func (d *Dispatcher) RaiseLockReleased(ctx context.Context, args *LockReleasedArgs) {
	for i, h := range d.snapshot() {
		if h.OnLockReleased == nil {
			continue
		}
		d.invoke(ctx, "FileLockReleased", h.name(i), func() { h.OnLockReleased(args) })
	}
}

// RaiseLockFailed delivers the FileLockFailed event. The caller inspects
// ContinueWithoutLock afterwards; the default (false) aborts the run.
func (d *Dispatcher) RaiseLockFailed(ctx context.Context, args *LockFailedArgs) {
	for i, h := range d.snapshot() {
		if h.OnLockFailed == nil {
			continue
		}
		d.invoke(ctx, "FileLockFailed", h.name(i), func() { h.OnLockFailed(args) })
	}
}

// RaiseChunkStarted delivers the ChunkStarted event. The caller reads the
// skip flag after the full handler chain has run.
func (d *Dispatcher) RaiseChunkStarted(ctx context.Context, args *ChunkStartedArgs) {
	for i, h := range d.snapshot() {
		if h.OnChunkStarted == nil {
			continue
		}
		d.invoke(ctx, "ChunkStarted", h.name(i), func() { h.OnChunkStarted(args) })
	}
	if args.Skip {
		d.logger.Info(ctx, "chunk skipped by handler",
			"chunk", args.ChunkIndex, "reason", args.SkipReason)
	}
}

// RaiseChunkCompleted delivers the ChunkCompleted event.
func (d *Dispatcher) RaiseChunkCompleted(ctx context.Context, args *ChunkCompletedArgs) {
	for i, h := range d.snapshot() {
		if h.OnChunkCompleted == nil {
			continue
		}
		d.invoke(ctx, "ChunkCompleted", h.name(i), func() { h.OnChunkCompleted(args) })
	}
}

// RaiseChunksMerging delivers the ChunksMerging event.
func (d *Dispatcher) RaiseChunksMerging(ctx context.Context, args *ChunksMergingArgs) {
	for i, h := range d.snapshot() {
		if h.OnChunksMerging == nil {
			continue
		}
		d.invoke(ctx, "ChunksMerging", h.name(i), func() { h.OnChunksMerging(args) })
	}
}

// RaiseChunksMerged delivers the ChunksMerged event.
func (d *Dispatcher) RaiseChunksMerged(ctx context.Context, args *ChunksMergedArgs) {
	for i, h := range d.snapshot() {
		if h.OnChunksMerged == nil {
			continue
		}
		d.invoke(ctx, "ChunksMerged", h.name(i), func() { h.OnChunksMerged(args) })
	}
}

// RaiseCompilationCompleted delivers the terminal CompilationCompleted event.
func (d *Dispatcher) RaiseCompilationCompleted(ctx context.Context, args *CompletedArgs) {
	for i, h := range d.snapshot() {
		if h.OnCompilationComplete == nil {
			continue
		}
		d.invoke(ctx, "CompilationCompleted", h.name(i), func() { h.OnCompilationComplete(args) })
	}
}

// RaiseCompilationError delivers the terminal CompilationError event.
func (d *Dispatcher) RaiseCompilationError(ctx context.Context, args *ErrorArgs) {
	for i, h := range d.snapshot() {
		if h.OnCompilationError == nil {
			continue
		}
		d.invoke(ctx, "CompilationError", h.name(i), func() { h.OnCompilationError(args) })
	}
}
