package repository

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("unique constraint violated")
	ErrInvalidActivity = errors.New("invalid activity")
)
