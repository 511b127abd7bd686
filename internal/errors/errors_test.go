package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineErrorFormat(t *testing.T) {
	err := NewIOError(ErrCodeSourceRead, "cannot read source", errors.New("permission denied")).
		WithStage("source-loading")

	msg := err.Error()
	assert.Contains(t, msg, "[ERR_SOURCE_READ]")
	assert.Contains(t, msg, "stage:source-loading")
	assert.Contains(t, msg, "cannot read source")
	assert.Contains(t, msg, "permission denied")
}

func TestPipelineErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewCompileError(ErrCodeCompileFailed, "compiler exited", cause)

	assert.ErrorIs(t, err, cause)
}

func TestPipelineErrorIsMatchesTypeAndCode(t *testing.T) {
	err := NewAborted(ErrCodeCriticalFinding, "fingerprint mismatch")

	assert.ErrorIs(t, err, NewAborted(ErrCodeCriticalFinding, "other message"))
	assert.NotErrorIs(t, err, NewAborted(ErrCodeCancelled, "other code"))
}

func TestIsAborted(t *testing.T) {
	assert.True(t, IsAborted(NewAborted(ErrCodeCancelled, "handler cancelled")))
	assert.False(t, IsAborted(NewIOError(ErrCodeLockTimeout, "timed out", nil)))
	assert.False(t, IsAborted(errors.New("plain")))

	// Wrapped aborts still classify as policy violations.
	wrapped := fmt.Errorf("run failed: %w", NewAborted(ErrCodeCriticalFinding, "critical"))
	assert.True(t, IsAborted(wrapped))
}

func TestStageExtraction(t *testing.T) {
	err := NewConfigError(ErrCodeConfigInvalid, "no sources").WithStage("configuration")
	assert.Equal(t, "configuration", Stage(err))
	assert.Equal(t, "", Stage(errors.New("plain")))
}

func TestWithContext(t *testing.T) {
	err := NewValidationError(ErrCodeConfigInvalid, "bad chunk size").
		WithContext("chunk_size", -1)
	assert.Equal(t, -1, err.Context["chunk_size"])
}

func TestAggregateChunkErrorNamesEveryIndex(t *testing.T) {
	agg := NewAggregateChunkError([]ChunkFailure{
		{Index: 4, Err: errors.New("timeout")},
		{Index: 1, Err: errors.New("exit 2")},
	})
	require.Error(t, agg)

	var ace *AggregateChunkError
	require.ErrorAs(t, agg, &ace)
	assert.Equal(t, []int{1, 4}, ace.Indices())
	assert.Contains(t, agg.Error(), "chunk 1")
	assert.Contains(t, agg.Error(), "chunk 4")
	assert.Contains(t, agg.Error(), "2 of the scheduled chunks failed")
}

func TestAggregateChunkErrorEmptyIsNil(t *testing.T) {
	assert.NoError(t, NewAggregateChunkError(nil))
}

func TestAggregateChunkErrorUnwrapsCauses(t *testing.T) {
	cause := NewCompileError(ErrCodeCompileTimeout, "chunk timed out", nil)
	agg := NewAggregateChunkError([]ChunkFailure{{Index: 0, Err: cause}})

	assert.ErrorIs(t, agg, cause)
}
