package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapError_Unwraps(t *testing.T) {
	cause := stderrors.New("disk full")
	err := NewStorageError("engine", "Save", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, err.IsRetryable())
	assert.False(t, err.IsFatal())
	assert.Equal(t, RecoveryActionRetry, err.GetRecoveryAction())
	assert.Contains(t, err.Error(), "disk full")
}

func TestWrapError_Nil(t *testing.T) {
	assert.Nil(t, WrapError(nil, ErrorCategoryStorage, "engine", "Save"))
}

func TestCategoryOf(t *testing.T) {
	wrapped := fmt.Errorf("load: %w", NewStateError("portfolio", "LoadState", stderrors.New("bad")))

	assert.Equal(t, ErrorCategoryState, CategoryOf(wrapped))
	assert.Equal(t, ErrorCategory(""), CategoryOf(stderrors.New("plain")))
}

func TestRecoveryActions(t *testing.T) {
	tests := []struct {
		name string
		err  *EngineError
		want RecoveryAction
	}{
		{"config stops", NewConfigurationError("config", "Validate", "bad"), RecoveryActionStop},
		{"state stops", NewStateError("portfolio", "LoadState", stderrors.New("x")), RecoveryActionStop},
		{"validation skips", NewValidationError("engine", "Enter", "bad"), RecoveryActionSkip},
		{"journal retries", NewJournalError("journal", "Record", stderrors.New("x")), RecoveryActionRetry},
		{"non-retryable storage skips", NewStorageError("engine", "Save", stderrors.New("x")).WithRetryable(false), RecoveryActionSkip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.GetRecoveryAction())
		})
	}
}

func TestErrorStats(t *testing.T) {
	stats := NewErrorStats(2)
	stats.RecordError(NewStorageError("engine", "Save", stderrors.New("a")))
	stats.RecordError(NewStorageError("engine", "Save", stderrors.New("b")))
	stats.RecordError(NewJournalError("engine", "Record", stderrors.New("c")))

	assert.Equal(t, 3, stats.TotalErrors)
	assert.Len(t, stats.RecentErrors, 2)
	assert.InDelta(t, 2.0/3.0, stats.GetErrorRate(ErrorCategoryStorage), 1e-9)
}
