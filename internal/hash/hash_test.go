package hash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint([]byte("||example.org^"))
	b := Fingerprint([]byte("||example.org^"))

	assert.Equal(t, a, b)
	assert.Len(t, a, 64) // sha256 hex
}

func TestFingerprintDistinguishesContent(t *testing.T) {
	a := Fingerprint([]byte("||example.org^"))
	b := Fingerprint([]byte("||example.org^\n"))

	assert.NotEqual(t, a, b)
}

func TestFingerprintEmptyInput(t *testing.T) {
	// Known sha256 of the empty string.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Fingerprint(nil))
}

func TestFingerprintFileMatchesInMemory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	content := []byte("! comment\n||ads.example.com^\n")
	require.NoError(t, os.WriteFile(path, content, 0644))

	got, err := FingerprintFile(path)
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(content), got)
}

func TestFingerprintFileMissing(t *testing.T) {
	_, err := FingerprintFile(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestDigestLength(t *testing.T) {
	assert.Len(t, Digest([]byte("rules")), 96) // sha384 hex
}

func TestDigestFileMatchesInMemory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	content := []byte("||tracker.example^\n")
	require.NoError(t, os.WriteFile(path, content, 0644))

	got, err := DigestFile(path)
	require.NoError(t, err)
	assert.Equal(t, Digest(content), got)
}

func TestShort(t *testing.T) {
	assert.Equal(t, "abcd", Short("abcdef", 4))
	assert.Equal(t, "ab", Short("ab", 4))
}
