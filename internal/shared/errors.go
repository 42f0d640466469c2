package shared

import "errors"

var (
	// ErrNotFound indicates the referenced principal, role or permission does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument indicates a malformed argument at the call boundary.
	ErrInvalidArgument = errors.New("invalid argument")
)
