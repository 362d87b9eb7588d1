package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

type customError struct {
	msg string
}

func (e *customError) Error() string {
	return e.msg
}

func TestAs(t *testing.T) {
	original := &customError{msg: "custom"}
	wrapped := Wrap(original, "wrapped")

	var target *customError
	require.True(t, As(wrapped, &target))
	assert.Equal(t, "custom", target.msg)
}

func TestWithDetail(t *testing.T) {
	err := WithDetail(New("error"), "Worker: w-1")

	details := GetAllDetails(err)
	require.Len(t, details, 1)
	assert.Equal(t, "Worker: w-1", details[0])
}

func TestNotFoundHelpers(t *testing.T) {
	err := NewNotFoundError("job instance %s", "abc")
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "job instance abc")

	assert.True(t, IsNotFound(Wrap(err, "claim")))
	assert.False(t, IsNotFound(New("other")))
	assert.False(t, IsNotFound(nil))
}

func TestConflictHelpers(t *testing.T) {
	err := Wrap(ErrConflict, "status changed")
	assert.True(t, IsConflict(err))
	assert.False(t, IsConflict(ErrNotFound))
}

func TestInvalidRequest(t *testing.T) {
	err := NewInvalidRequestError("missing %s", "worker_id")
	assert.True(t, Is(err, ErrInvalidRequest))
	assert.Contains(t, err.Error(), "missing worker_id")
}
