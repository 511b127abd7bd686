package lock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	forgeerrors "github.com/filterforge/filterforge/internal/errors"
	"github.com/filterforge/filterforge/internal/hash"
)

func writeList(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestAcquireReadCapturesFingerprint(t *testing.T) {
	svc := NewService(nil)
	path := writeList(t, "||example.org^\n")

	h, err := svc.AcquireRead(context.Background(), path, true)
	require.NoError(t, err)
	defer svc.Release(context.Background(), h)

	assert.NotEmpty(t, h.ID)
	assert.Equal(t, ModeRead, h.Mode)
	assert.Equal(t, hash.Fingerprint([]byte("||example.org^\n")), h.Fingerprint)
	assert.True(t, h.Active())
	assert.Len(t, svc.ActiveLocks(), 1)
}

func TestAcquireReadWithoutHash(t *testing.T) {
	svc := NewService(nil)
	path := writeList(t, "||example.org^\n")

	h, err := svc.AcquireRead(context.Background(), path, false)
	require.NoError(t, err)
	defer svc.Release(context.Background(), h)

	assert.Empty(t, h.Fingerprint)
}

func TestVerifyIntegrityAfterAcquire(t *testing.T) {
	svc := NewService(nil)
	path := writeList(t, "||ads.example^\n")

	h, err := svc.AcquireRead(context.Background(), path, true)
	require.NoError(t, err)
	defer svc.Release(context.Background(), h)

	ok, err := svc.VerifyIntegrity(context.Background(), path, h.Fingerprint)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseDetectsTamper(t *testing.T) {
	svc := NewService(nil)
	path := writeList(t, "||ads.example^\n")

	h, err := svc.AcquireRead(context.Background(), path, true)
	require.NoError(t, err)

	// Shared flock does not stop a writer; that is exactly the race the
	// fingerprint pair exists to catch.
	require.NoError(t, os.WriteFile(path, []byte("||evil.example^\n"), 0644))

	info, err := svc.Release(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, info.Modified)
	assert.NotEqual(t, info.FingerprintBefore, info.FingerprintAfter)
	assert.False(t, h.Active())
	assert.Empty(t, svc.ActiveLocks())
}

func TestReleaseCleanIsNotModified(t *testing.T) {
	svc := NewService(nil)
	path := writeList(t, "||ads.example^\n")

	h, err := svc.AcquireRead(context.Background(), path, true)
	require.NoError(t, err)

	info, err := svc.Release(context.Background(), h)
	require.NoError(t, err)
	assert.False(t, info.Modified)
	assert.Equal(t, info.FingerprintBefore, info.FingerprintAfter)
}

func TestReleaseExactlyOnce(t *testing.T) {
	svc := NewService(nil)
	path := writeList(t, "||ads.example^\n")

	h, err := svc.AcquireRead(context.Background(), path, true)
	require.NoError(t, err)

	first, err := svc.Release(context.Background(), h)
	require.NoError(t, err)
	assert.NotZero(t, first.FingerprintBefore)

	// Second release is a guarded no-op.
	second, err := svc.Release(context.Background(), h)
	require.NoError(t, err)
	assert.Zero(t, second)
}

func TestAcquireMissingFile(t *testing.T) {
	svc := NewService(nil)

	_, err := svc.AcquireRead(context.Background(), filepath.Join(t.TempDir(), "nope.txt"), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, forgeerrors.NewIOError(forgeerrors.ErrCodeSourceNotFound, "", nil))
}

func TestSharedLocksCoexist(t *testing.T) {
	svc := NewService(nil)
	path := writeList(t, "||ads.example^\n")

	a, err := svc.AcquireRead(context.Background(), path, true)
	require.NoError(t, err)
	b, err := svc.AcquireRead(context.Background(), path, true)
	require.NoError(t, err)

	assert.Len(t, svc.ActiveLocks(), 2)

	svc.ReleaseAll(context.Background(), nil)
	assert.Empty(t, svc.ActiveLocks())
	assert.False(t, a.Active())
	assert.False(t, b.Active())
}

func TestExclusiveBlocksReadUntilTimeout(t *testing.T) {
	path := writeList(t, "||ads.example^\n")

	writer := NewService(nil)
	w, err := writer.AcquireWrite(context.Background(), path, false)
	require.NoError(t, err)
	defer writer.Release(context.Background(), w)

	reader := NewService(nil, WithTimeout(200*time.Millisecond), WithPollInterval(20*time.Millisecond))
	start := time.Now()
	_, err = reader.AcquireRead(context.Background(), path, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, forgeerrors.NewIOError(forgeerrors.ErrCodeLockTimeout, "", nil))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	path := writeList(t, "||ads.example^\n")

	writer := NewService(nil)
	w, err := writer.AcquireWrite(context.Background(), path, false)
	require.NoError(t, err)
	defer writer.Release(context.Background(), w)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	reader := NewService(nil, WithTimeout(10*time.Second), WithPollInterval(10*time.Millisecond))
	_, err = reader.AcquireRead(ctx, path, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, forgeerrors.NewIOError(forgeerrors.ErrCodeLockTimeout, "", nil))
}

func TestTryAcquireReadReturnsNilOnFailure(t *testing.T) {
	path := writeList(t, "||ads.example^\n")

	writer := NewService(nil)
	w, err := writer.AcquireWrite(context.Background(), path, false)
	require.NoError(t, err)
	defer writer.Release(context.Background(), w)

	reader := NewService(nil, WithTimeout(100*time.Millisecond), WithPollInterval(20*time.Millisecond))
	assert.Nil(t, reader.TryAcquireRead(context.Background(), path, false))
}

func TestReleaseAllInvokesCallback(t *testing.T) {
	svc := NewService(nil)
	pathA := writeList(t, "a\n")
	pathB := writeList(t, "b\n")

	_, err := svc.AcquireRead(context.Background(), pathA, true)
	require.NoError(t, err)
	_, err = svc.AcquireRead(context.Background(), pathB, true)
	require.NoError(t, err)

	var released int
	svc.ReleaseAll(context.Background(), func(h *Handle, info ReleaseInfo) {
		released++
		assert.False(t, info.Modified)
	})
	assert.Equal(t, 2, released)
}
