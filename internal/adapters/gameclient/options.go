package gameclient

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/facequiz/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHeaders adds headers sent on every request (cookies, user agent, ...).
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			if k != "" && v != "" {
				c.headers.Set(k, v)
			}
		}
	}
}

// WithRateLimit spaces consecutive remote calls at least interval apart.
func WithRateLimit(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.limiter = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
