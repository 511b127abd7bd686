// Package source loads filter-list sources ahead of compilation. Local
// files are read with byte-order-mark stripping and charset normalization
// so the external compiler always sees clean UTF-8; remote origins go
// through an injected Fetcher.
package source

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/filterforge/filterforge/internal/errors"
	"github.com/filterforge/filterforge/internal/hash"
	"github.com/filterforge/filterforge/internal/logging"
	"github.com/filterforge/filterforge/internal/types"
)

// Loaded is one source after loading and normalization. Fingerprint is
// computed over the normalized content, so the same list in UTF-8 and
// UTF-16 encodings fingerprints identically.
type Loaded struct {
	Source      types.Source
	Content     []byte
	Fingerprint string
	Size        int64
	RawSize     int64
}

// Fetcher retrieves the content of a remote origin. The transport is the
// caller's concern; the loader only normalizes whatever bytes come back.
type Fetcher interface {
	Fetch(ctx context.Context, origin string) ([]byte, error)
}

// FetchFunc adapts a plain function to the Fetcher interface.
type FetchFunc func(ctx context.Context, origin string) ([]byte, error)

// Fetch implements Fetcher.
func (f FetchFunc) Fetch(ctx context.Context, origin string) ([]byte, error) {
	return f(ctx, origin)
}

// Loader reads and normalizes sources.
type Loader struct {
	fetcher Fetcher
	logger  logging.Logger
}

// NewLoader creates a source loader. A nil fetcher makes remote origins
// fail with a descriptive error; a nil logger falls back to a no-op.
func NewLoader(fetcher Fetcher, logger logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Loader{
		fetcher: fetcher,
		logger:  logger.WithComponent("source"),
	}
}

// Load reads one source, normalizes its encoding, and captures its
// fingerprint and size. Local origins come from the filesystem, everything
// else goes through the fetcher.
func (l *Loader) Load(ctx context.Context, src types.Source) (*Loaded, error) {
	var (
		raw []byte
		err error
	)
	if src.IsLocal() {
		raw, err = os.ReadFile(src.Origin)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.NewIOError(errors.ErrCodeSourceNotFound,
					"source file does not exist: "+src.Origin, err)
			}
			return nil, errors.NewIOError(errors.ErrCodeSourceRead,
				"failed to read source: "+src.Origin, err)
		}
	} else {
		if l.fetcher == nil {
			return nil, errors.NewIOError(errors.ErrCodeSourceRead,
				"no fetcher configured for remote origin: "+src.Origin, nil)
		}
		raw, err = l.fetcher.Fetch(ctx, src.Origin)
		if err != nil {
			return nil, errors.NewIOError(errors.ErrCodeSourceRead,
				"failed to fetch source: "+src.Origin, err)
		}
	}

	content, err := Normalize(raw)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeSourceRead,
			"failed to normalize source encoding: "+src.Origin, err)
	}

	loaded := &Loaded{
		Source:      src,
		Content:     content,
		Fingerprint: hash.Fingerprint(content),
		Size:        int64(len(content)),
		RawSize:     int64(len(raw)),
	}

	l.logger.Debug(ctx, "source loaded",
		"source", src.Label(),
		"size", loaded.Size,
		"fingerprint", hash.Short(loaded.Fingerprint, 12))

	return loaded, nil
}

// VerifyExpected checks a loaded source against its declared fingerprint,
// when the workload pinned one. An empty expectation always passes.
func (l *Loaded) VerifyExpected() error {
	want := strings.TrimSpace(l.Source.ExpectedFingerprint)
	if want == "" {
		return nil
	}
	if !strings.EqualFold(want, l.Fingerprint) {
		return errors.NewValidationError(errors.ErrCodeLockIntegrity,
			"source content does not match its declared fingerprint: "+l.Source.Label())
	}
	return nil
}

// Lines splits normalized content into lines, tolerating both LF and CRLF
// endings. A trailing newline does not produce a final empty line.
func (l *Loaded) Lines() []string {
	if len(l.Content) == 0 {
		return nil
	}
	text := strings.ReplaceAll(string(l.Content), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

// Normalize decodes content into UTF-8, honoring UTF-8/UTF-16 byte order
// marks and stripping them. Content without a BOM passes through as UTF-8.
func Normalize(raw []byte) ([]byte, error) {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), decoder))
	if err != nil {
		return nil, err
	}
	return out, nil
}
