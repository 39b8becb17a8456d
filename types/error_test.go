package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true)

	assert.Equal(t, ErrUpstreamError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, root)
	assert.Equal(t, "[UPSTREAM_ERROR] upstream failed: root", err.Error())
}

func TestAsError_Wrapped(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrNotFound, "task not found")
	wrapped := fmt.Errorf("lookup: %w", inner)

	got, ok := AsError(wrapped)
	assert.True(t, ok)
	assert.Same(t, inner, got)
	assert.Equal(t, ErrNotFound, GetErrorCode(wrapped))
	assert.False(t, IsRetryable(wrapped))

	_, ok = AsError(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestFromUpstreamStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		code      ErrorCode
		retryable bool
	}{
		{400, ErrUpstreamError, false},
		{401, ErrUnauthorized, false},
		{403, ErrUnauthorized, false},
		{408, ErrUpstreamTimeout, true},
		{429, ErrRateLimited, true},
		{500, ErrUpstreamError, true},
		{503, ErrUpstreamError, true},
		{504, ErrUpstreamTimeout, true},
	}
	for _, tt := range tests {
		err := FromUpstreamStatus(tt.status, "")
		assert.Equal(t, tt.code, err.Code, "status %d", tt.status)
		assert.Equal(t, tt.retryable, err.Retryable, "status %d", tt.status)
		assert.Equal(t, tt.status, err.HTTPStatus)
	}

	err := FromUpstreamStatus(502, "  worker pool exhausted\n")
	assert.Equal(t, "[UPSTREAM_ERROR] status 502: worker pool exhausted", err.Error())
}
