package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecurityErrorMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", ErrSecondFactorRequired)
	assert.ErrorIs(t, wrapped, ErrSecondFactorRequired)
	assert.NotErrorIs(t, wrapped, ErrSecondFactorInvalid)

	same := &SecurityError{Code: CodeSecondFactorNeeded, Message: "different text"}
	assert.ErrorIs(t, same, ErrSecondFactorRequired)
}

func TestExecutionErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ExecutionError{Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		code Code
		ok   bool
	}{
		{ErrAuthenticationFailed, CodeAuthFailed, true},
		{ErrSecondFactorRequired, CodeSecondFactorNeeded, true},
		{ErrSecondFactorInvalid, CodeSecondFactorInvalid, true},
		{fmt.Errorf("wrapped: %w", ErrDecryptionFailed), CodeDecryptionFailed, true},
		{&RateLimitError{Identity: "alice", Max: 100}, CodeRateLimited, true},
		{&ExecutionError{Err: errors.New("boom")}, CodeExecutionFailed, true},
		{errors.New("unrelated"), Code(""), false},
		{nil, Code(""), false},
	}
	for _, tc := range cases {
		code, ok := CodeOf(tc.err)
		assert.Equal(t, tc.ok, ok, "err=%v", tc.err)
		assert.Equal(t, tc.code, code, "err=%v", tc.err)
	}
}

func TestRateLimitErrorMessage(t *testing.T) {
	err := &RateLimitError{Identity: "alice", Remaining: 0, Max: 100}
	assert.Contains(t, err.Error(), "alice")
	assert.Contains(t, err.Error(), "100")
}
