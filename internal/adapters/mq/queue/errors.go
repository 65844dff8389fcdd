package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrFlushInProgress = errors.New("flush already in progress")
	ErrInvalidItem     = errors.New("invalid queue item")
)
