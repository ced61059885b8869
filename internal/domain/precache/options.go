package precache

import "github.com/okian/facequiz/pkg/logger"

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithConcurrency caps in-flight picture fetches.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}
