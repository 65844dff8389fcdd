package scanner

import "errors"

// Sentinel errors.
var (
	ErrNoToken     = errors.New("a token or a signing secret is required")
	ErrBadResponse = errors.New("unexpected response")
)
