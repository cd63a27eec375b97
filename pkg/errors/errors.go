// Package errors defines the rejection taxonomy shared by the security and
// trading packages. Handlers map these to machine-readable response codes.
package errors

import (
	"errors"
	"fmt"
)

// Code is a machine-readable rejection reason.
type Code string

const (
	CodeAuthFailed          Code = "AUTH_FAILED"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeSecondFactorNeeded  Code = "2FA_REQUIRED"
	CodeSecondFactorInvalid Code = "2FA_INVALID"
	CodeDecryptionFailed    Code = "DECRYPT_FAILED"
	CodeExecutionFailed     Code = "EXECUTION_FAILED"
)

var (
	// ErrAuthenticationFailed covers bad, unknown and revoked API keys. A single
	// error on purpose: callers must not be able to distinguish the three.
	ErrAuthenticationFailed = &SecurityError{Code: CodeAuthFailed, Message: "authentication failed"}

	ErrSecondFactorRequired = &SecurityError{Code: CodeSecondFactorNeeded, Message: "second factor verification required"}
	ErrSecondFactorInvalid  = &SecurityError{Code: CodeSecondFactorInvalid, Message: "invalid second factor code"}
	ErrDecryptionFailed     = &SecurityError{Code: CodeDecryptionFailed, Message: "decryption failed"}
)

// SecurityError is a terminal rejection resolved inside the trust subsystem.
type SecurityError struct {
	Code    Code
	Message string
}

func (e *SecurityError) Error() string { return e.Message }

// Is matches by code so wrapped rejections still compare with errors.Is.
func (e *SecurityError) Is(target error) bool {
	var se *SecurityError
	if errors.As(target, &se) {
		return se.Code == e.Code
	}
	return false
}

// RateLimitError carries remaining-quota context alongside the rejection.
type RateLimitError struct {
	Identity  string
	Remaining int
	Max       int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (%d/%d remaining)", e.Identity, e.Remaining, e.Max)
}

func (e *RateLimitError) Is(target error) bool {
	var re *RateLimitError
	return errors.As(target, &re)
}

// ExecutionError wraps a failure reported by the external trade executor.
// The underlying error is passed through untouched.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string { return fmt.Sprintf("trade execution failed: %v", e.Err) }
func (e *ExecutionError) Unwrap() error { return e.Err }

// CodeOf extracts the machine-readable code from any error in the taxonomy.
func CodeOf(err error) (Code, bool) {
	var se *SecurityError
	if errors.As(err, &se) {
		return se.Code, true
	}
	var re *RateLimitError
	if errors.As(err, &re) {
		return CodeRateLimited, true
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return CodeExecutionFailed, true
	}
	return "", false
}
