package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("load task: %w", NotFound("store.GetTask", "task %s", "01H"))

	assert.True(t, IsNotFound(err))
	assert.False(t, IsPersistence(err))
	assert.True(t, errors.Is(err, NotFound("", "")))
	assert.False(t, errors.Is(err, Persistence("", nil)))
	assert.Equal(t, "load task: store.GetTask: task 01H", err.Error())
}

func TestBackendUnavailableUnwrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := BackendUnavailable("backend.Put", cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, Retryable(err))
	assert.False(t, Retryable(NotFound("backend.Stat", "missing")))
	assert.Equal(t, "backend.Put: dial tcp: connection refused", err.Error())
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
	assert.Equal(t, KindConfiguration, KindOf(Configuration("registry", "missing %s", "R2_BUCKET")))
}

func TestConflictIsNotRetryable(t *testing.T) {
	err := fmt.Errorf("cutover: %w", Conflict("store.UpdateTierAssignment", "placement changed"))
	assert.True(t, IsConflict(err))
	assert.False(t, IsInvalid(err))
	assert.False(t, Retryable(err))
}
