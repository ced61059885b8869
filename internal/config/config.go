// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - External errors must be wrapped via this package's sentinel errors.
package config

import (
	"context"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn warning error"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`

	// APIBaseURL is the root of the remote game API.
	APIBaseURL string `koanf:"api_base_url" validate:"required,url"`

	// AuthCookie is sent verbatim as the Cookie header. Usually set in .env.
	AuthCookie string `koanf:"auth_cookie"`

	// UserAgent is sent with every remote request.
	UserAgent string `koanf:"user_agent"`

	// Headers are extra request headers for the remote API.
	Headers map[string]string `koanf:"headers"`

	// RequestTimeoutMS bounds every remote call.
	RequestTimeoutMS int `koanf:"request_timeout_ms" validate:"gt=0"`

	// QuestionIntervalMS is the minimum spacing between game calls; 0 disables pacing.
	QuestionIntervalMS int `koanf:"question_interval_ms" validate:"gte=0"`

	// DurablePath is the JSON association file.
	DurablePath string `koanf:"durable_path" validate:"required"`

	// VolatileEnabled turns the badger tier on.
	VolatileEnabled bool `koanf:"volatile_enabled"`

	// VolatilePath keeps the badger tier on disk; empty means in memory.
	VolatilePath string `koanf:"volatile_path"`

	// DurableWriteThrough flushes the durable file on every learn.
	DurableWriteThrough bool `koanf:"durable_write_through"`

	// VolatileRecoveryIntervalMS spaces probes of a degraded volatile tier.
	VolatileRecoveryIntervalMS int `koanf:"volatile_recovery_interval_ms" validate:"gt=0"`

	// PrecacheConcurrency caps parallel picture fetches.
	PrecacheConcurrency int `koanf:"precache_concurrency" validate:"gte=1,lte=64"`

	// QuestionsPerSession is the precache window opened on a session's first question.
	QuestionsPerSession int `koanf:"questions_per_session" validate:"gte=1,lte=1000"`

	// Sessions is the default batch size.
	Sessions int `koanf:"sessions" validate:"gte=1"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:                   "info",
		LogFormat:                  "text",
		Addr:                       ":9080",
		APIBaseURL:                 "https://aramis.ilucca.net/faces/api",
		UserAgent:                  "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		Headers:                    map[string]string{},
		RequestTimeoutMS:           15_000,
		QuestionIntervalMS:         500,
		DurablePath:                "faces_data.json",
		VolatileEnabled:            true,
		VolatileRecoveryIntervalMS: 5_000,
		PrecacheConcurrency:        4,
		QuestionsPerSession:        10,
		Sessions:                   1,
	}
}

// RequestTimeout is RequestTimeoutMS as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// QuestionInterval is QuestionIntervalMS as a duration.
func (c *Config) QuestionInterval() time.Duration {
	return time.Duration(c.QuestionIntervalMS) * time.Millisecond
}

// VolatileRecoveryInterval is VolatileRecoveryIntervalMS as a duration.
func (c *Config) VolatileRecoveryInterval() time.Duration {
	return time.Duration(c.VolatileRecoveryIntervalMS) * time.Millisecond
}

// RemoteHeaders merges the cookie and user agent into the extra headers.
func (c *Config) RemoteHeaders() map[string]string {
	h := make(map[string]string, len(c.Headers)+2)
	for k, v := range c.Headers {
		h[k] = v
	}
	if c.AuthCookie != "" {
		h["Cookie"] = c.AuthCookie
	}
	if c.UserAgent != "" {
		h["User-Agent"] = c.UserAgent
	}
	return h
}
