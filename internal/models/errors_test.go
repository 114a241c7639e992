package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, ErrNotFound, KindOf(NewError(ErrNotFound, "missing")))
	assert.Equal(t, ErrInternal, KindOf(errors.New("plain")))
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := NewError(ErrQueueFull, "任务队列已满，请稍后再试")
	wrapped := fmt.Errorf("submit: %w", inner)

	assert.Equal(t, ErrQueueFull, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, ErrQueueFull))
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(ErrIO, "write draft", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "io_error")
	assert.Contains(t, err.Error(), "disk full")
}

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorKind{ErrLLMTimeout, ErrLLMRateLimit, ErrLLMTransient}
	for _, k := range retryable {
		assert.True(t, IsRetryable(NewError(k, "x")), string(k))
	}

	final := []ErrorKind{ErrLLMAuth, ErrLLMQuota, ErrInvalid, ErrCancelled, ErrPromptTooLarge, ErrInternal}
	for _, k := range final {
		assert.False(t, IsRetryable(NewError(k, "x")), string(k))
	}
	assert.False(t, IsRetryable(nil))
}

func TestTaskStatusIsTerminal(t *testing.T) {
	assert.True(t, TaskStatusCompleted.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
	assert.True(t, TaskStatusCancelled.IsTerminal())
	assert.False(t, TaskStatusQueued.IsTerminal())
	assert.False(t, TaskStatusRunning.IsTerminal())
}

func TestTaskSnapshotCopiesResult(t *testing.T) {
	task := &Task{ID: "t1", Result: &GenerateResult{OutputPath: "a.md"}}
	snap := task.Snapshot()

	snap.Result.OutputPath = "changed.md"
	assert.Equal(t, "a.md", task.Result.OutputPath)
}
