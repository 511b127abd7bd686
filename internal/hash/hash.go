// Package hash provides deterministic content fingerprinting for the
// compilation pipeline.
//
// Two digest families are exposed: SHA-256 fingerprints used for file lock
// integrity verification, and SHA-384 digests used to identify the final
// compiled artifact. Both are pure functions of their input bytes.
package hash

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// fileReadChunk is the buffer size used when streaming file contents.
const fileReadChunk = 8192

// Fingerprint returns the hex-encoded SHA-256 digest of b.
func Fingerprint(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// FingerprintFile returns the hex-encoded SHA-256 digest of the file at path.
// The file is streamed so large filter lists do not need to fit in memory.
func FingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, fileReadChunk)); err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Digest returns the hex-encoded SHA-384 digest of b. Used for the
// compiled-artifact identity rather than lock integrity.
func Digest(b []byte) string {
	sum := sha512.Sum384(b)
	return hex.EncodeToString(sum[:])
}

// DigestFile returns the hex-encoded SHA-384 digest of the file at path.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	defer f.Close()

	h := sha512.New384()
	if _, err := io.CopyBuffer(h, f, make([]byte, fileReadChunk)); err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Short truncates a hex digest for display. Digests shorter than n are
// returned unchanged.
func Short(digest string, n int) string {
	if len(digest) > n {
		return digest[:n]
	}
	return digest
}
