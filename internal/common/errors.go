// Package common defines the sentinel errors shared by the repository and
// service layers. Callers match them with errors.Is; expected failure paths
// (duplicate email, not found, mismatched password) are modeled as values,
// never as panics.
package common

import "errors"

var (
	// Validation errors (malformed input, rejected before the store is hit).
	ErrValidation = errors.New("validation failure")

	// Repository-level errors.
	ErrDuplicateEmail = errors.New("email already registered")
	ErrNotFound       = errors.New("not found")
	ErrStorage        = errors.New("storage failure")

	// Credential errors.
	ErrInvalidCredential = errors.New("invalid credential")

	// OTP lifecycle errors.
	ErrOTPExpired  = errors.New("otp expired")
	ErrOTPMismatch = errors.New("otp mismatch")

	// Notification delivery errors.
	ErrTransport = errors.New("transport failure")
)
