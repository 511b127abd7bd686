// Package orchestrator drives one compilation run through its stage
// machine: configuration, validation checkpoints, source loading under
// advisory locks, chunked or direct compilation, merging, and final
// validation. Every terminal path releases all held locks and re-verifies
// their fingerprints.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/filterforge/filterforge/internal/chunk"
	"github.com/filterforge/filterforge/internal/compiler"
	"github.com/filterforge/filterforge/internal/config"
	"github.com/filterforge/filterforge/internal/errors"
	"github.com/filterforge/filterforge/internal/events"
	"github.com/filterforge/filterforge/internal/hash"
	"github.com/filterforge/filterforge/internal/lock"
	"github.com/filterforge/filterforge/internal/logging"
	"github.com/filterforge/filterforge/internal/merge"
	"github.com/filterforge/filterforge/internal/source"
	"github.com/filterforge/filterforge/internal/types"
	"github.com/filterforge/filterforge/internal/watcher"
)

// State names one stage of the run.
type State string

const (
	StateIdle            State = "idle"
	StateStarting        State = "starting"
	StateConfigLoading   State = "configuration_loading"
	StateValidating      State = "validating"
	StateSourceLoading   State = "source_loading"
	StatePlanning        State = "planning"
	StateExecuting       State = "executing"
	StateMerging         State = "merging"
	StateDirectCompiling State = "direct_compiling"
	StateFinalValidating State = "final_validating"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	StateAborted         State = "aborted"
)

// Terminal reports whether the state ends the run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateAborted
}

// SkippedSource records a source excluded from the workload by a handler.
type SkippedSource struct {
	Source types.Source
	Reason string
}

// Report is the immutable outcome of one run.
type Report struct {
	State             State
	Lines             []string
	RuleCount         int
	Digest            string
	OutputPath        string
	Duration          time.Duration
	Chunked           bool
	ChunkCount        int
	DuplicatesRemoved int
	EstimatedSpeedup  float64
	SkippedSources    []SkippedSource
	Findings          []events.Finding
	Err               error
}

// Aborted reports whether the run ended by policy rather than failure.
func (r *Report) Aborted() bool { return r.State == StateAborted }

// Orchestrator runs one compilation. Instances are single-use: state
// accumulated during a run (held locks, skipped sources, findings) belongs
// to that run alone.
type Orchestrator struct {
	cfg        *config.Config
	compiler   compiler.Compiler
	dispatcher *events.Dispatcher
	locks      *lock.Service
	loader     *source.Loader
	logger     logging.Logger

	state    State
	started  time.Time
	skipped  []SkippedSource
	findings []events.Finding
	handles  []*lock.Handle
	tamper   *watcher.TamperWatcher
}

// Options bundles the collaborators of a run. Zero-value fields fall back
// to production defaults.
type Options struct {
	Compiler   compiler.Compiler
	Dispatcher *events.Dispatcher
	Locks      *lock.Service
	Fetcher    source.Fetcher
	Logger     logging.Logger
}

// New creates a single-use orchestrator for the given workload.
func New(cfg *config.Config, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NewDispatcher(logger)
	}
	comp := opts.Compiler
	if comp == nil {
		comp = compiler.NewExecCompiler(logger)
	}
	locks := opts.Locks
	if locks == nil {
		locks = lock.NewService(logger)
	}
	return &Orchestrator{
		cfg:        cfg,
		compiler:   comp,
		dispatcher: dispatcher,
		locks:      locks,
		loader:     source.NewLoader(opts.Fetcher, logger),
		logger:     logger.WithComponent("orchestrator"),
		state:      StateIdle,
	}
}

// State returns the current stage of the run.
func (o *Orchestrator) State() State { return o.state }

// Run executes the full pipeline and always returns a report; the report's
// Err is non-nil exactly when the terminal state is Failed or Aborted.
func (o *Orchestrator) Run(ctx context.Context) *Report {
	o.started = time.Now()

	// Advisory locks are cooperative; the watcher independently records
	// writes to locked files as corroborating evidence for the
	// fingerprint check at release.
	if tw, err := watcher.New(o.logger); err == nil {
		o.tamper = tw
		defer func() { _ = tw.Stop() }()
	} else {
		o.logger.Warn(ctx, err, "tamper watcher unavailable")
	}

	report := o.run(ctx)

	// Locks are released on every terminal path. The success path has
	// already released them before its output checkpoint; this covers
	// failure and abort exits, where a fingerprint mismatch at release is
	// the TOCTOU signal: the file changed while we were compiling from it.
	o.findings = append(o.findings, o.releaseLocks(ctx)...)

	report.State = o.state
	report.SkippedSources = o.skipped
	report.Findings = o.findings
	report.Duration = time.Since(o.started)

	if report.Err != nil {
		o.dispatcher.RaiseCompilationError(ctx, &events.ErrorArgs{
			Timestamp:    time.Now(),
			Stage:        errors.Stage(report.Err),
			ErrorMessage: report.Err.Error(),
			Err:          report.Err,
			Findings:     o.findings,
			Aborted:      o.state == StateAborted,
		})
	}
	return report
}

func (o *Orchestrator) run(ctx context.Context) *Report {
	report := &Report{}

	// Starting: any handler may cancel before work begins.
	o.state = StateStarting
	startArgs := &events.StartedArgs{
		Timestamp:   time.Now(),
		SourceCount: len(o.cfg.Sources),
	}
	o.dispatcher.RaiseCompilationStarted(ctx, startArgs)
	if startArgs.Cancel {
		return o.abort(report, "starting", errors.NewAborted(
			errors.ErrCodeCancelled, cancelMessage(startArgs.CancelReason)))
	}

	// ConfigurationLoading: the workload was parsed by the config layer;
	// announce it and run the configuration validation checkpoint.
	o.state = StateConfigLoading
	o.dispatcher.RaiseConfigurationLoaded(ctx, &events.ConfigurationLoadedArgs{
		Timestamp:   time.Now(),
		ConfigName:  o.cfg.Name,
		SourceCount: len(o.cfg.Sources),
	})

	o.state = StateValidating
	if err := o.validate(ctx, "configuration", len(o.cfg.Sources)); err != nil {
		return o.abort(report, "configuration", err)
	}

	// SourceLoading: each source in order, locks on local files.
	o.state = StateSourceLoading
	loaded, err := o.loadSources(ctx)
	if err != nil {
		return o.fail(report, "source_loading", err)
	}
	if len(loaded) == 0 {
		o.logger.Info(ctx, "no sources to compile, run short-circuits")
		o.state = StateFinalValidating
		if err := o.validate(ctx, "output", 0); err != nil {
			return o.abort(report, "output", err)
		}
		o.state = StateCompleted
		o.dispatcher.RaiseCompilationCompleted(ctx, &events.CompletedArgs{
			Timestamp: time.Now(),
			Duration:  time.Since(o.started),
		})
		return report
	}

	active := make([]types.Source, len(loaded))
	for i, l := range loaded {
		active[i] = l.Source
	}

	// Compile, chunked or direct. The chunked pipeline only engages when
	// the plan actually splits the workload: a plan that collapses to a
	// single chunk compiles directly.
	var merged merge.Result
	var plan []chunk.Chunk
	if chunk.ShouldChunk(active, o.cfg.Chunking) {
		o.state = StatePlanning
		plan = chunk.Plan(active, o.cfg.Chunking.MaxParallel)
	}
	if len(plan) > 1 {
		merged, err = o.compileChunked(ctx, plan, report)
	} else {
		merged, err = o.compileDirect(ctx, active)
	}
	if err != nil {
		return o.fail(report, errors.Stage(err), err)
	}

	report.Lines = merged.Lines
	report.RuleCount = compiler.CountRules(merged.Lines)
	report.DuplicatesRemoved = merged.DuplicatesRemoved

	// FinalValidating: the source locks come off before the output
	// checkpoint, so a fingerprint mismatch at release enters the
	// checkpoint as a Critical finding and aborts the run while the
	// artifact is still unwritten.
	o.state = StateFinalValidating
	integrity := o.releaseLocks(ctx)
	if err := o.validate(ctx, "output", len(merged.Lines), integrity...); err != nil {
		return o.abort(report, "output", err)
	}

	if err := o.writeOutput(report); err != nil {
		return o.fail(report, "output", err)
	}

	o.state = StateCompleted
	o.dispatcher.RaiseCompilationCompleted(ctx, &events.CompletedArgs{
		Timestamp:  time.Now(),
		RuleCount:  report.RuleCount,
		OutputPath: report.OutputPath,
		Duration:   time.Since(o.started),
		Digest:     report.Digest,
	})
	return report
}

// validate runs one validation checkpoint. Seed findings enter the
// checkpoint as if a handler had already reported them. All handlers run;
// Critical findings force an abort afterwards, and an explicit abort
// request is honored for lesser findings.
func (o *Orchestrator) validate(ctx context.Context, stage string, items int, seed ...events.Finding) error {
	args := &events.ValidationArgs{
		Timestamp:      time.Now(),
		StageName:      stage,
		ItemsValidated: items,
		Findings:       seed,
	}
	start := time.Now()
	o.dispatcher.RaiseValidation(ctx, args)
	args.Duration = time.Since(start)

	o.findings = append(o.findings, args.Findings...)

	if args.HasCritical() {
		return errors.NewAborted(errors.ErrCodeCriticalFinding,
			"critical validation finding in stage "+stage).WithStage(stage)
	}
	if args.Abort {
		reason := args.AbortReason
		if reason == "" {
			reason = "validation handler requested abort"
		}
		return errors.NewAborted(errors.ErrCodeCriticalFinding, reason).WithStage(stage)
	}
	return nil
}

// loadSources walks the workload in order: SourceLoading (skippable), a
// shared lock with fingerprint for local files, then SourceLoaded.
func (o *Orchestrator) loadSources(ctx context.Context) ([]*source.Loaded, error) {
	total := len(o.cfg.Sources)
	loaded := make([]*source.Loaded, 0, total)

	for i, src := range o.cfg.Sources {
		loadingArgs := &events.SourceLoadingArgs{
			Timestamp:    time.Now(),
			SourceIndex:  i,
			TotalSources: total,
			Origin:       src.Origin,
			SourceName:   src.Label(),
			IsLocalFile:  src.IsLocal(),
		}
		o.dispatcher.RaiseSourceLoading(ctx, loadingArgs)
		if loadingArgs.Skip {
			o.skipped = append(o.skipped, SkippedSource{
				Source: src,
				Reason: loadingArgs.SkipReason,
			})
			continue
		}

		if src.IsLocal() {
			if err := o.lockSource(ctx, src); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		l, err := o.loader.Load(ctx, src)
		loadedArgs := &events.SourceLoadedArgs{
			Timestamp:    time.Now(),
			SourceIndex:  i,
			TotalSources: total,
			Origin:       src.Origin,
			SourceName:   src.Label(),
			LoadDuration: time.Since(start),
		}
		if err != nil {
			loadedArgs.ErrorMessage = err.Error()
			o.dispatcher.RaiseSourceLoaded(ctx, loadedArgs)
			return nil, err
		}
		loadedArgs.Success = true
		loadedArgs.ContentSize = l.Size
		loadedArgs.Fingerprint = l.Fingerprint
		loadedArgs.EstimatedRules = compiler.CountRules(l.Lines())
		o.dispatcher.RaiseSourceLoaded(ctx, loadedArgs)

		if err := l.VerifyExpected(); err != nil {
			return nil, err
		}
		// Per-source checkpoint: handlers inspect the loaded content's
		// metadata before it joins the workload.
		if err := o.validate(ctx, "source", 1); err != nil {
			return nil, err
		}
		loaded = append(loaded, l)
	}
	return loaded, nil
}

// lockSource takes a shared lock with a fingerprint on a local source. A
// lock failure raises FileLockFailed; handlers may elect to continue
// without the lock, otherwise the run fails.
func (o *Orchestrator) lockSource(ctx context.Context, src types.Source) error {
	h, err := o.locks.AcquireRead(ctx, src.Origin, true)
	if err != nil {
		failArgs := &events.LockFailedArgs{
			Timestamp: time.Now(),
			FilePath:  src.Origin,
			Mode:      events.LockModeRead,
			Reason:    err.Error(),
			Err:       err,
		}
		o.dispatcher.RaiseLockFailed(ctx, failArgs)
		if failArgs.ContinueWithoutLock {
			o.logger.Warn(ctx, err, "continuing without lock",
				"path", src.Origin)
			return nil
		}
		return err
	}

	o.handles = append(o.handles, h)
	if o.tamper != nil {
		if werr := o.tamper.Watch(h.Path); werr != nil {
			o.logger.Warn(ctx, werr, "cannot watch locked source", "path", h.Path)
		}
	}
	o.dispatcher.RaiseLockAcquired(ctx, &events.LockAcquiredArgs{
		Timestamp:   time.Now(),
		FilePath:    h.Path,
		Mode:        events.LockModeRead,
		LockID:      h.ID,
		Fingerprint: h.Fingerprint,
	})
	return nil
}

// compileChunked executes a multi-chunk plan and merges the results.
// ChunksMerging/ChunksMerged bracket the merge so handlers see both totals.
func (o *Orchestrator) compileChunked(ctx context.Context, chunks []chunk.Chunk, report *Report) (merge.Result, error) {
	report.Chunked = true
	report.ChunkCount = len(chunks)

	o.logger.Info(ctx, "workload chunked",
		"chunks", len(chunks),
		"max_parallel", o.cfg.Chunking.MaxParallel)

	o.state = StateExecuting
	executor := chunk.NewExecutor(o.compiler, o.dispatcher, o.logger, o.cfg.CompilerConfig())
	wallStart := time.Now()
	results, err := executor.ExecuteAll(ctx, chunks, o.cfg.Chunking.MaxParallel)
	if err != nil {
		return merge.Result{}, errors.NewCompileError(errors.ErrCodeChunksFailed,
			"chunked compilation failed", err).WithStage("executing")
	}
	wall := time.Since(wallStart)

	o.state = StateMerging
	totalBefore := 0
	for _, r := range results {
		totalBefore += len(r.Lines)
	}
	o.dispatcher.RaiseChunksMerging(ctx, &events.ChunksMergingArgs{
		Timestamp:        time.Now(),
		ChunkCount:       len(results),
		TotalRulesBefore: totalBefore,
	})

	mergeStart := time.Now()
	merged := merge.NewEngine(o.logger).Merge(ctx, results)
	report.EstimatedSpeedup = chunk.EstimatedSpeedup(results, wall)

	o.dispatcher.RaiseChunksMerged(ctx, &events.ChunksMergedArgs{
		Timestamp:         time.Now(),
		ChunkCount:        len(results),
		TotalRulesBefore:  totalBefore,
		FinalRuleCount:    len(merged.Lines),
		DuplicatesRemoved: merged.DuplicatesRemoved,
		Duration:          time.Since(mergeStart),
	})

	// "merge" checkpoint: handlers inspect the merged artifact.
	if err := o.validate(ctx, "merge", len(merged.Lines)); err != nil {
		return merge.Result{}, err
	}
	return merged, nil
}

// compileDirect invokes the compiler once over the whole workload.
func (o *Orchestrator) compileDirect(ctx context.Context, sources []types.Source) (merge.Result, error) {
	o.state = StateDirectCompiling

	cfg := o.cfg.CompilerConfig()
	cfg.Sources = sources
	lines, err := o.compiler.Compile(ctx, cfg)
	if err != nil {
		return merge.Result{}, err
	}
	return merge.Result{
		Lines:           lines,
		TotalInputLines: len(lines),
	}, nil
}

// writeOutput persists the artifact and records its digest. An empty
// output path keeps the artifact in-memory only.
func (o *Orchestrator) writeOutput(report *Report) error {
	content := joinLines(report.Lines)
	report.Digest = hash.Digest(content)

	path := o.cfg.Output.Path
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.NewIOError(errors.ErrCodeOutputWrite,
				"failed to create output directory", err)
		}
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return errors.NewIOError(errors.ErrCodeOutputWrite,
			"failed to write output file", err)
	}
	report.OutputPath = path
	return nil
}

// releaseLocks drops every held lock, raising FileLockReleased per lock.
// Any fingerprint mismatch is returned as a Critical tamper finding; the
// caller decides whether it feeds a validation checkpoint or goes straight
// into the report.
func (o *Orchestrator) releaseLocks(ctx context.Context) []events.Finding {
	var tampered []events.Finding
	for _, h := range o.handles {
		info, err := o.locks.Release(ctx, h)
		if err != nil {
			o.logger.Warn(ctx, err, "lock release failed", "path", h.Path)
			continue
		}
		o.dispatcher.RaiseLockReleased(ctx, &events.LockReleasedArgs{
			Timestamp:         time.Now(),
			FilePath:          h.Path,
			LockID:            h.ID,
			HeldFor:           info.HeldFor,
			Modified:          info.Modified,
			FingerprintBefore: info.FingerprintBefore,
			FingerprintAfter:  info.FingerprintAfter,
		})
		if info.Modified {
			msg := "file modified during compilation: " + h.Path
			if o.tamper != nil {
				if evs := o.tamper.Events(h.Path); len(evs) > 0 {
					msg = fmt.Sprintf("%s (%d filesystem write events observed, first %s)",
						msg, len(evs), evs[0].Op)
				}
			}
			tampered = append(tampered, events.Finding{
				Severity: events.SeverityCritical,
				Code:     errors.ErrCodeLockIntegrity,
				Message:  msg,
				Stage:    "lock_release",
				Location: h.Path,
			})
		}
	}
	o.handles = nil
	return tampered
}

func (o *Orchestrator) abort(report *Report, stage string, err error) *Report {
	o.state = StateAborted
	report.Err = err
	o.logger.Warn(context.Background(), err, "run aborted", "stage", stage)
	return report
}

func (o *Orchestrator) fail(report *Report, stage string, err error) *Report {
	if errors.IsAborted(err) {
		return o.abort(report, stage, err)
	}
	o.state = StateFailed
	report.Err = err
	o.logger.Error(context.Background(), err, "run failed", "stage", stage)
	return report
}

func cancelMessage(reason string) string {
	if reason == "" {
		return "compilation cancelled before start"
	}
	return fmt.Sprintf("compilation cancelled before start: %s", reason)
}

func joinLines(lines []string) []byte {
	if len(lines) == 0 {
		return nil
	}
	size := 0
	for _, l := range lines {
		size += len(l) + 1
	}
	buf := make([]byte, 0, size)
	for _, l := range lines {
		buf = append(buf, l...)
		buf = append(buf, '\n')
	}
	return buf
}
