// Package apperr defines the sentinel errors shared across Odal components.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Block Store mutation errors. The store is left unchanged when one of
	// these is returned.
	ErrInvalidPosition = errors.New("invalid position")
	ErrCycleDetected   = errors.New("cycle detected")
	ErrUnknownBlock    = errors.New("unknown block")

	// An operation referenced state this replica has not seen and no
	// prerequisite arrived within the buffering window.
	ErrUnresolvedDependency = errors.New("unresolved dependency")

	// Plugin sandbox.
	ErrPermissionDenied = errors.New("permission denied")
	ErrResourceExceeded = errors.New("resource limit exceeded")
)
