// Package worker drives offline queue flushes from well-defined triggers.
package worker

import (
	"time"

	"github.com/okian/timebank/pkg/logger"
)

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithName sets the scheduler name for identification and logging.
func WithName(name string) Option {
	return func(s *Scheduler) {
		if name != "" {
			s.name = name
		}
	}
}

// WithInterval sets the periodic flush interval. Zero disables it.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.interval = d
		}
	}
}

// WithLogger sets a custom logger for the scheduler.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFlushTimeout bounds a single flush.
func WithFlushTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.flushTimeout = d
		}
	}
}
