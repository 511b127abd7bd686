// Package events implements the zero-trust event pipeline wrapping every
// compilation stage. Registered handlers observe and mutate a single shared
// event-argument value per raise, letting external validators skip sources,
// append findings, or abort the run at well-defined checkpoints.
package events

import "time"

// Severity grades a validation finding. Ordering is significant:
// Info < Warning < Error < Critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// LockMode identifies the kind of advisory lock an event refers to.
type LockMode string

const (
	LockModeRead  LockMode = "read"
	LockModeWrite LockMode = "write"
)

// Finding is a single validation observation with a machine-readable code.
type Finding struct {
	Severity Severity
	Code     string
	Message  string
	Stage    string
	Location string
}

// StartedArgs accompanies the CompilationStarted event. A handler may set
// Cancel to stop the run before any work happens.
type StartedArgs struct {
	Timestamp    time.Time
	ConfigPath   string
	SourceCount  int
	Cancel       bool
	CancelReason string
}

// ConfigurationLoadedArgs accompanies the ConfigurationLoaded event.
type ConfigurationLoadedArgs struct {
	Timestamp   time.Time
	ConfigPath  string
	ConfigName  string
	SourceCount int
}

// ValidationArgs accompanies validation checkpoint events. Handlers append
// findings; any Critical finding forces an abort once every handler has run,
// and a handler may request an abort explicitly for lesser findings.
type ValidationArgs struct {
	Timestamp      time.Time
	StageName      string
	Findings       []Finding
	ItemsValidated int
	Duration       time.Duration
	Abort          bool
	AbortReason    string
}

// Passed reports whether validation produced no Error or Critical findings.
func (a *ValidationArgs) Passed() bool {
	for _, f := range a.Findings {
		if f.Severity >= SeverityError {
			return false
		}
	}
	return true
}

// HasCritical reports whether any accumulated finding is Critical.
func (a *ValidationArgs) HasCritical() bool {
	for _, f := range a.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// AddFinding appends a finding at the given severity.
func (a *ValidationArgs) AddFinding(severity Severity, code, message string) {
	a.Findings = append(a.Findings, Finding{
		Severity: severity,
		Code:     code,
		Message:  message,
		Stage:    a.StageName,
	})
}

// AddWarning appends a warning finding.
func (a *ValidationArgs) AddWarning(code, message string) {
	a.AddFinding(SeverityWarning, code, message)
}

// AddError appends an error finding.
func (a *ValidationArgs) AddError(code, message string) {
	a.AddFinding(SeverityError, code, message)
}

// AddCritical appends a critical finding and sets the abort flag.
func (a *ValidationArgs) AddCritical(code, message string) {
	a.AddFinding(SeverityCritical, code, message)
	a.Abort = true
	a.AbortReason = message
}

// SourceLoadingArgs accompanies the SourceLoading event. A handler may set
// Skip to exclude the source from the workload.
type SourceLoadingArgs struct {
	Timestamp    time.Time
	SourceIndex  int
	TotalSources int
	Origin       string
	SourceName   string
	IsLocalFile  bool
	Skip         bool
	SkipReason   string
}

// SourceLoadedArgs accompanies the SourceLoaded event. Informational.
type SourceLoadedArgs struct {
	Timestamp      time.Time
	SourceIndex    int
	TotalSources   int
	Origin         string
	SourceName     string
	Success        bool
	ErrorMessage   string
	ContentSize    int64
	EstimatedRules int
	LoadDuration   time.Duration
	Fingerprint    string
}

// LockAcquiredArgs accompanies the FileLockAcquired event. Informational.
type LockAcquiredArgs struct {
	Timestamp   time.Time
	FilePath    string
	Mode        LockMode
	LockID      string
	Fingerprint string
}

// LockReleasedArgs accompanies the FileLockReleased event. Modified is true
// when the release-time fingerprint no longer matches the acquisition-time
// fingerprint.
type LockReleasedArgs struct {
	Timestamp         time.Time
	FilePath          string
	LockID            string
	HeldFor           time.Duration
	Modified          bool
	FingerprintBefore string
	FingerprintAfter  string
}

// LockFailedArgs accompanies the FileLockFailed event. The default policy
// aborts the run; a handler may set ContinueWithoutLock to proceed.
type LockFailedArgs struct {
	Timestamp           time.Time
	FilePath            string
	Mode                LockMode
	Reason              string
	Err                 error
	ContinueWithoutLock bool
}

// ChunkStartedArgs accompanies the ChunkStarted event. Skippable.
type ChunkStartedArgs struct {
	Timestamp   time.Time
	ChunkIndex  int
	TotalChunks int
	SourceCount int
	Skip        bool
	SkipReason  string
}

// ChunkCompletedArgs accompanies the ChunkCompleted event.
type ChunkCompletedArgs struct {
	Timestamp    time.Time
	ChunkIndex   int
	TotalChunks  int
	Success      bool
	ErrorMessage string
	RuleCount    int
	Duration     time.Duration
}

// ChunksMergingArgs accompanies the ChunksMerging event.
type ChunksMergingArgs struct {
	Timestamp        time.Time
	ChunkCount       int
	TotalRulesBefore int
}

// ChunksMergedArgs accompanies the ChunksMerged event.
type ChunksMergedArgs struct {
	Timestamp         time.Time
	ChunkCount        int
	TotalRulesBefore  int
	FinalRuleCount    int
	DuplicatesRemoved int
	Duration          time.Duration
}

// CompletedArgs accompanies the terminal CompilationCompleted event.
type CompletedArgs struct {
	Timestamp  time.Time
	RuleCount  int
	OutputPath string
	Duration   time.Duration
	Digest     string
}

// ErrorArgs accompanies the terminal CompilationError event.
type ErrorArgs struct {
	Timestamp    time.Time
	Stage        string
	ErrorMessage string
	Err          error
	Findings     []Finding
	Aborted      bool
}
