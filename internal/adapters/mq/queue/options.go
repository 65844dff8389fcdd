package queue

import (
	"time"

	"github.com/okian/timebank/pkg/logger"
)

// Option applies a configuration option to the Queue.
type Option func(*Queue)

// WithStore sets the backing item store. Defaults to memory.
func WithStore(s Store) Option {
	return func(q *Queue) {
		if s != nil {
			q.store = s
		}
	}
}

// WithClock overrides the time source used for EnqueuedAt.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithLogger sets a custom logger for the queue.
func WithLogger(l logger.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}
