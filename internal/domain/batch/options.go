package batch

import "github.com/okian/facequiz/pkg/logger"

// Option applies a configuration option to the Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRunID overrides the generated run id.
func WithRunID(gen func() string) Option {
	return func(r *Runner) {
		if gen != nil {
			r.newRunID = gen
		}
	}
}
