// Package lock provides advisory file locking for local filter-list sources
// with content-fingerprint integrity verification.
//
// A read lock is shared among concurrent compilation runs and blocked by an
// exclusive holder. The fingerprint captured at acquisition is re-verified at
// release; a mismatch means the file changed while the pipeline trusted it
// (a TOCTOU race), which callers surface as a Critical validation finding.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/filterforge/filterforge/internal/errors"
	"github.com/filterforge/filterforge/internal/hash"
	"github.com/filterforge/filterforge/internal/logging"
)

// Mode is the kind of advisory lock held on a file.
type Mode string

const (
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
)

// Default wait policy: poll the non-blocking flock until the timeout.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Handle represents an active lock. It is owned by the acquiring scope and
// must be released exactly once; the Service enforces the exactly-once rule.
type Handle struct {
	ID          string
	Path        string
	Mode        Mode
	Fingerprint string
	AcquiredAt  time.Time

	file     *os.File
	mu       sync.Mutex
	released bool
}

// Active reports whether the lock is still held.
func (h *Handle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.released
}

// ReleaseInfo describes the outcome of releasing a lock.
type ReleaseInfo struct {
	HeldFor           time.Duration
	Modified          bool
	FingerprintBefore string
	FingerprintAfter  string
}

// Service acquires and tracks advisory file locks for one compilation run.
type Service struct {
	timeout      time.Duration
	pollInterval time.Duration
	logger       logging.Logger

	mu     sync.Mutex
	active map[string]*Handle
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout overrides the default lock wait timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithPollInterval overrides the contention poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) { s.pollInterval = d }
}

// NewService creates a lock service. A nil logger falls back to a no-op.
func NewService(logger logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	s := &Service{
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		logger:       logger.WithComponent("lock"),
		active:       make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AcquireRead acquires a shared lock on path, optionally capturing a content
// fingerprint for release-time integrity verification.
func (s *Service) AcquireRead(ctx context.Context, path string, computeHash bool) (*Handle, error) {
	return s.acquire(ctx, path, ModeRead, computeHash)
}

// AcquireWrite acquires an exclusive lock on path.
func (s *Service) AcquireWrite(ctx context.Context, path string, computeHash bool) (*Handle, error) {
	return s.acquire(ctx, path, ModeWrite, computeHash)
}

func (s *Service) acquire(ctx context.Context, path string, mode Mode, computeHash bool) (*Handle, error) {
	fullPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeSourceRead, "resolve lock path", err)
	}

	flags := os.O_RDONLY
	if mode == ModeWrite {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(fullPath, flags, 0)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeSourceNotFound,
			fmt.Sprintf("open %s for %s lock", fullPath, mode), err)
	}

	how := syscall.LOCK_SH
	if mode == ModeWrite {
		how = syscall.LOCK_EX
	}

	deadline := time.Now().Add(s.timeout)
	for {
		err = syscall.Flock(int(f.Fd()), how|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if err != syscall.EWOULDBLOCK && err != syscall.EAGAIN {
			f.Close()
			return nil, errors.NewIOError(errors.ErrCodeSourceRead,
				fmt.Sprintf("flock %s", fullPath), err)
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, errors.NewIOError(errors.ErrCodeLockTimeout,
				fmt.Sprintf("timeout acquiring %s lock on %s after %s", mode, fullPath, s.timeout), err)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, errors.NewIOError(errors.ErrCodeLockTimeout,
				fmt.Sprintf("cancelled while waiting for %s lock on %s", mode, fullPath), ctx.Err())
		case <-time.After(s.pollInterval):
		}
	}

	var fingerprint string
	if computeHash {
		fingerprint, err = hash.FingerprintFile(fullPath)
		if err != nil {
			syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
			f.Close()
			return nil, err
		}
	}

	h := &Handle{
		ID:          uuid.NewString(),
		Path:        fullPath,
		Mode:        mode,
		Fingerprint: fingerprint,
		AcquiredAt:  time.Now(),
		file:        f,
	}

	s.mu.Lock()
	s.active[h.ID] = h
	s.mu.Unlock()

	s.logger.Debug(ctx, "lock acquired",
		"path", fullPath, "mode", string(mode),
		"lock_id", hash.Short(h.ID, 8), "fingerprint", hash.Short(fingerprint, 16))

	return h, nil
}

// TryAcquireRead attempts a read lock and returns nil instead of an error
// when the lock cannot be acquired.
func (s *Service) TryAcquireRead(ctx context.Context, path string, computeHash bool) *Handle {
	h, err := s.AcquireRead(ctx, path, computeHash)
	if err != nil {
		s.logger.Warn(ctx, err, "could not acquire read lock", "path", path)
		return nil
	}
	return h
}

// VerifyIntegrity compares the current content fingerprint of path against
// expected.
func (s *Service) VerifyIntegrity(ctx context.Context, path, expected string) (bool, error) {
	current, err := hash.FingerprintFile(path)
	if err != nil {
		return false, err
	}
	matches := strings.EqualFold(current, expected)
	if !matches {
		s.logger.Warn(ctx, nil, "integrity check failed",
			"path", path,
			"expected", hash.Short(expected, 16),
			"actual", hash.Short(current, 16))
	}
	return matches, nil
}

// Release releases h, re-verifying the captured fingerprint first. Releasing
// an already-released handle is a no-op returning the zero ReleaseInfo. The
// returned Modified flag is the caller's cue to raise a Critical finding.
func (s *Service) Release(ctx context.Context, h *Handle) (ReleaseInfo, error) {
	if h == nil {
		return ReleaseInfo{}, nil
	}

	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return ReleaseInfo{}, nil
	}
	h.released = true
	h.mu.Unlock()

	info := ReleaseInfo{
		HeldFor:           time.Since(h.AcquiredAt),
		FingerprintBefore: h.Fingerprint,
	}

	// Re-verify before dropping the lock: the flock is still held here, so
	// a mismatch proves the file changed while we trusted it.
	var verifyErr error
	if h.Fingerprint != "" {
		after, err := hash.FingerprintFile(h.Path)
		if err != nil {
			verifyErr = err
		} else {
			info.FingerprintAfter = after
			info.Modified = !strings.EqualFold(after, h.Fingerprint)
		}
	}

	if err := syscall.Flock(int(h.file.Fd()), syscall.LOCK_UN); err != nil {
		s.logger.Warn(ctx, err, "flock unlock failed", "path", h.Path)
	}
	if err := h.file.Close(); err != nil {
		s.logger.Warn(ctx, err, "lock file close failed", "path", h.Path)
	}

	s.mu.Lock()
	delete(s.active, h.ID)
	s.mu.Unlock()

	if info.Modified {
		s.logger.Warn(ctx, nil, "file modified while locked",
			"path", h.Path,
			"before", hash.Short(info.FingerprintBefore, 16),
			"after", hash.Short(info.FingerprintAfter, 16))
	} else {
		s.logger.Debug(ctx, "lock released", "path", h.Path, "held_for", info.HeldFor)
	}

	return info, verifyErr
}

// ActiveLocks returns the currently held handles.
func (s *Service) ActiveLocks() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, 0, len(s.active))
	for _, h := range s.active {
		out = append(out, h)
	}
	return out
}

// ReleaseAll releases every still-held lock, invoking fn (when non-nil) with
// each handle and its release outcome. Used on abort and failure paths so no
// lock outlives the run.
func (s *Service) ReleaseAll(ctx context.Context, fn func(*Handle, ReleaseInfo)) {
	for _, h := range s.ActiveLocks() {
		info, err := s.Release(ctx, h)
		if err != nil {
			s.logger.Error(ctx, err, "error releasing lock", "path", h.Path)
		}
		if fn != nil {
			fn(h, info)
		}
	}
}
