package ingest

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Submit matches exactly one of these
// through errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("booth not found")
	ErrInactive     = errors.New("booth inactive")
	ErrRateLimited  = errors.New("duplicate scan within window")
	ErrInternal     = errors.New("internal error")
)

var kinds = []error{ErrValidation, ErrUnauthorized, ErrNotFound, ErrInactive, ErrRateLimited, ErrInternal}

// Error carries the failing operation, its kind and the underlying cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinel.
func (e *Error) Is(target error) bool { return target == e.Kind }

func newError(op string, kind, cause error) error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// Kind returns the sentinel kind of err. Unknown non-nil errors are ErrInternal.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}

// Retryable reports whether a client may queue the submission for a later
// retry. Only internal failures can change outcome by retrying.
func Retryable(err error) bool {
	return errors.Is(Kind(err), ErrInternal)
}

// KindLabel returns a short stable label for err's kind, used in metrics and logs.
func KindLabel(err error) string {
	switch Kind(err) {
	case nil:
		return "ok"
	case ErrValidation:
		return "validation"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrNotFound:
		return "not_found"
	case ErrInactive:
		return "inactive"
	case ErrRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}
