// Package common defines shared constants and sentinel errors used across
// the sync core. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Crypto / protocol errors.
	ErrMissingKey         = errors.New("key required for encryption intent")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrDecryptFailed      = errors.New("decrypt failed")

	// Session errors (invalid or expired server session).
	ErrInvalidSession = errors.New("invalid session")

	// Validation errors (short password, malformed input).
	ErrValidation = errors.New("validation error")

	// Transport errors other than auth.
	ErrServerFailure = errors.New("server failure")

	// Programmer errors. These indicate illegal states (double database
	// load, decrypting a non-payload) and are never recovered from.
	ErrProgrammer = errors.New("programmer error")
)
