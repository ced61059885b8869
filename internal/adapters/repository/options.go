package repository

import (
	"time"

	"github.com/okian/facequiz/pkg/logger"
)

// Option applies a configuration option to the IdentityStore.
type Option func(*IdentityStore)

// WithLogger sets a custom logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(s *IdentityStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWriteThrough flushes the durable file on every Learn instead of on Persist.
func WithWriteThrough(enabled bool) Option {
	return func(s *IdentityStore) {
		s.writeThrough = enabled
	}
}

// WithRecoveryInterval sets how often an unavailable volatile tier is probed.
func WithRecoveryInterval(interval time.Duration) Option {
	return func(s *IdentityStore) {
		if interval > 0 {
			s.recoveryInterval = interval
		}
	}
}
