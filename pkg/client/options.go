package client

import (
	"net/http"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// RetryPolicy bounds how a status or results query is retried on transport
// errors, 502, 504 and 429.  Attempts counts retries after the first call.
type RetryPolicy struct {
	Attempts int
	MinWait  time.Duration
	MaxWait  time.Duration
}

// DefaultRetry suits polling a trainer that may be restarting.
var DefaultRetry = RetryPolicy{Attempts: 3, MinWait: 500 * time.Millisecond, MaxWait: 5 * time.Second}

// NoRetry fails on the first error.
var NoRetry = RetryPolicy{}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts < 0 {
		p.Attempts = 0
	}
	if p.MinWait <= 0 {
		p.MinWait = DefaultRetry.MinWait
	}
	if p.MaxWait < p.MinWait {
		p.MaxWait = p.MinWait
	}
	return p
}

// WithRetry replaces DefaultRetry.
func WithRetry(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p.normalized() }
}

// WithTimeout caps a single request, including reading the body.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient swaps the transport, e.g. for TLS to a remote trainer.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCaller prefixes the User-Agent with the calling tool, so server access
// logs tell a dashboard from the CLI.
func WithCaller(name, version string) Option {
	return func(c *Client) {
		if name == "" {
			return
		}
		if version != "" {
			name += "/" + version
		}
		c.userAgent = name + " " + defaultUserAgent
	}
}
