package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filterforge/filterforge/internal/errors"
	"github.com/filterforge/filterforge/internal/hash"
	"github.com/filterforge/filterforge/internal/types"
)

func writeSource(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestLoadLocalSource(t *testing.T) {
	content := []byte("||ads.example^\n||tracker.example^\n")
	path := writeSource(t, content)

	loaded, err := NewLoader(nil, nil).Load(context.Background(),
		types.Source{Origin: path})

	require.NoError(t, err)
	assert.Equal(t, content, loaded.Content)
	assert.Equal(t, int64(len(content)), loaded.Size)
	assert.Equal(t, hash.Fingerprint(content), loaded.Fingerprint)
}

func TestLoadLocalSourceMissing(t *testing.T) {
	_, err := NewLoader(nil, nil).Load(context.Background(),
		types.Source{Origin: filepath.Join(t.TempDir(), "absent.txt")})

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.NewIOError("ERR_SOURCE_NOT_FOUND", "", nil))
}

func TestLoadStripsUTF8BOM(t *testing.T) {
	content := append([]byte{0xEF, 0xBB, 0xBF}, []byte("||ads.example^\n")...)
	path := writeSource(t, content)

	loaded, err := NewLoader(nil, nil).Load(context.Background(),
		types.Source{Origin: path})

	require.NoError(t, err)
	assert.Equal(t, []byte("||ads.example^\n"), loaded.Content)
	assert.Equal(t, int64(len(content)), loaded.RawSize)
}

func TestLoadDecodesUTF16(t *testing.T) {
	// "r1\n" little-endian with BOM.
	content := []byte{0xFF, 0xFE, 'r', 0, '1', 0, '\n', 0}
	path := writeSource(t, content)

	loaded, err := NewLoader(nil, nil).Load(context.Background(),
		types.Source{Origin: path})

	require.NoError(t, err)
	assert.Equal(t, []byte("r1\n"), loaded.Content)
}

func TestFingerprintIndependentOfEncoding(t *testing.T) {
	utf8Path := writeSource(t, []byte("r1\n"))
	utf16 := []byte{0xFF, 0xFE, 'r', 0, '1', 0, '\n', 0}
	utf16Path := filepath.Join(t.TempDir(), "utf16.txt")
	require.NoError(t, os.WriteFile(utf16Path, utf16, 0o644))

	loader := NewLoader(nil, nil)
	a, err := loader.Load(context.Background(), types.Source{Origin: utf8Path})
	require.NoError(t, err)
	b, err := loader.Load(context.Background(), types.Source{Origin: utf16Path})
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint, b.Fingerprint)
}

func TestLoadRemoteThroughFetcher(t *testing.T) {
	fetched := false
	fetcher := FetchFunc(func(ctx context.Context, origin string) ([]byte, error) {
		fetched = true
		assert.Equal(t, "https://lists.example/ads.txt", origin)
		return []byte("||ads.example^\n"), nil
	})

	loaded, err := NewLoader(fetcher, nil).Load(context.Background(),
		types.Source{Origin: "https://lists.example/ads.txt"})

	require.NoError(t, err)
	assert.True(t, fetched)
	assert.Equal(t, []byte("||ads.example^\n"), loaded.Content)
}

func TestLoadRemoteWithoutFetcher(t *testing.T) {
	_, err := NewLoader(nil, nil).Load(context.Background(),
		types.Source{Origin: "https://lists.example/ads.txt"})

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.NewIOError("ERR_SOURCE_READ", "", nil))
}

func TestLoadRemoteFetchFailure(t *testing.T) {
	fetcher := FetchFunc(func(ctx context.Context, origin string) ([]byte, error) {
		return nil, fmt.Errorf("connection refused")
	})

	_, err := NewLoader(fetcher, nil).Load(context.Background(),
		types.Source{Origin: "https://lists.example/ads.txt"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch source")
}

func TestVerifyExpectedFingerprint(t *testing.T) {
	content := []byte("r1\n")
	path := writeSource(t, content)

	loaded, err := NewLoader(nil, nil).Load(context.Background(), types.Source{
		Origin:              path,
		ExpectedFingerprint: hash.Fingerprint(content),
	})
	require.NoError(t, err)
	assert.NoError(t, loaded.VerifyExpected())

	loaded.Source.ExpectedFingerprint = "deadbeef"
	assert.Error(t, loaded.VerifyExpected())

	loaded.Source.ExpectedFingerprint = ""
	assert.NoError(t, loaded.VerifyExpected())
}

func TestLines(t *testing.T) {
	loaded := &Loaded{Content: []byte("r1\r\nr2\nr3\n")}
	assert.Equal(t, []string{"r1", "r2", "r3"}, loaded.Lines())

	assert.Nil(t, (&Loaded{}).Lines())
	assert.Equal(t, []string{"r1"}, (&Loaded{Content: []byte("r1")}).Lines())
}

func TestNormalizePassThrough(t *testing.T) {
	out, err := Normalize([]byte("plain ascii\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte("plain ascii\n"), out)
}
