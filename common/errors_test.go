package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrorKinds tests kind extraction through wrapping
func TestErrorKinds(t *testing.T) {
	base := NewError(ErrDCNotFound, "data collection missing", "project-1")

	assert.Equal(t, ErrDCNotFound, KindOf(base))
	assert.True(t, IsKind(base, ErrDCNotFound))
	assert.False(t, IsKind(base, ErrIO))

	wrapped := fmt.Errorf("while executing join: %w", base)
	assert.Equal(t, ErrDCNotFound, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, ErrDCNotFound))
}

// TestErrorMessage tests the rendered form
func TestErrorMessage(t *testing.T) {
	withContext := NewError(ErrInvalidFile, "file size cannot be zero", "/data/a.csv")
	assert.Equal(t, "invalid-file: file size cannot be zero (/data/a.csv)", withContext.Error())

	withoutContext := NewError(ErrIO, "connection refused", "")
	assert.Equal(t, "io-error: connection refused", withoutContext.Error())
}

// TestWrapError tests cause preservation
func TestWrapError(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := WrapError(ErrIO, "/scratch", cause)

	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, ErrIO, KindOf(wrapped))
}

// TestKindOfPlainError tests that foreign errors carry no kind
func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}
