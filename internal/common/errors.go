// Package common contains shared helpers and sentinel errors used across
// CipherDrop components. Callers should match errors with errors.Is.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Lifecycle errors. These reflect true business state of a file and are
	// terminal per request, never retried.
	ErrFileExpired          = errors.New("file expired")
	ErrDownloadLimitReached = errors.New("download limit reached")
	ErrPasswordRequired     = errors.New("password required")
	ErrInvalidPassword      = errors.New("invalid password")

	// Upload validation errors (caller mistakes, rejected immediately).
	ErrInvalidEnvelope = errors.New("incomplete encryption envelope")
	ErrSizeMismatch    = errors.New("declared size does not match payload")

	// Infrastructure errors.
	ErrStorageFailure = errors.New("storage failure")
	ErrInternal       = errors.New("internal error")

	// Auth errors (admin endpoints).
	ErrInvalidToken = errors.New("invalid token")
)
