package txerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsRetryableClassifiesWrappedErrors(t *testing.T) {
	underlying := errors.New("boom")

	retryable, ok := AsRetryable(NewRetryable(underlying))
	assert.True(t, ok)
	assert.True(t, retryable)

	retryable, ok = AsRetryable(NewNonRetryable(underlying))
	assert.True(t, ok)
	assert.False(t, retryable)

	_, ok = AsRetryable(underlying)
	assert.False(t, ok)
}

func TestRetryableErrorUnwrap(t *testing.T) {
	underlying := errors.New("boom")
	wrapped := NewRetryable(underlying)
	assert.ErrorIs(t, wrapped, underlying)
}

func TestInvalidConfigErrorMessage(t *testing.T) {
	err := &InvalidConfigError{Violations: []string{"private_key is required"}}
	assert.Contains(t, err.Error(), "private_key is required")
}
