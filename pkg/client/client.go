// Package client is a Go client for the molgfn trainer status API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/molgfn/pkg/errors"
)

const Version = "0.1.0"

const defaultUserAgent = "molgfn-go-client/" + Version

// Logger receives request traces.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}

// Client talks to one trainer's status server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     Logger
	retry      RetryPolicy
}

// APIError is a non-2xx response of the status API.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id"`
	Body       []byte `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("molgfn: %s (HTTP %d): %s [request_id=%s]", e.Code, e.StatusCode, e.Message, e.RequestID)
}

func (e *APIError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

// IsUnavailable reports a disabled results store or a failing readiness probe.
func (e *APIError) IsUnavailable() bool { return e.StatusCode == http.StatusServiceUnavailable }

// NewClient returns a client for the server at baseURL (http or https).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.InvalidConfig("base URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "invalid base URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.InvalidConfig("base URL scheme must be http or https").WithDetail(baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  defaultUserAgent,
		logger:     noopLogger{},
		retry:      DefaultRetry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// get performs a GET with retries on transport errors, 502, 504 and 429.
func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	fullURL := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.retry.Attempts; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debugf("retry %d of GET %s after %v", attempt, path, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return errors.Wrap(err, errors.CodeInvalidParam, "failed to create request")
		}
		requestID := uuid.NewString()
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("X-Request-ID", requestID)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Errorf("GET %s failed: %v", path, err)
			lastErr = errors.Wrap(err, errors.CodeUnavailable, "request failed").WithDetail(path)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return errors.Wrap(err, errors.CodeExternal, "failed to read response body")
		}
		c.logger.Debugf("GET %s %d (%v)", path, resp.StatusCode, time.Since(start))

		if resp.StatusCode >= 400 {
			apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: requestID, Body: body}
			var er struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if json.Unmarshal(body, &er) == nil && er.Code != "" {
				apiErr.Code, apiErr.Message = er.Code, er.Message
			} else {
				apiErr.Message = string(body)
			}
			lastErr = apiErr
			if wait, ok := retryAfter(resp); ok && attempt < c.retry.Attempts {
				c.logger.Infof("rate limited, retrying after %v", wait)
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			if resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusGatewayTimeout {
				continue
			}
			return apiErr
		}

		if result != nil && len(body) > 0 {
			if err := json.Unmarshal(body, result); err != nil {
				return errors.Wrap(err, errors.CodeSerialization, "failed to decode response")
			}
		}
		return nil
	}
	return lastErr
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}
	seconds, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

// calculateBackoff doubles the wait per attempt up to retry.MaxWait and adds
// up to 25% jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.retry.MinWait * time.Duration(1<<uint(attempt-1))
	if backoff > c.retry.MaxWait {
		backoff = c.retry.MaxWait
	}
	if q := int64(backoff / 4); q > 0 {
		backoff += time.Duration(rand.Int63n(q))
	}
	return backoff
}
