package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molgfn/pkg/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithRetry(RetryPolicy{Attempts: 3, MinWait: time.Millisecond, MaxWait: 2 * time.Millisecond})}, opts...)
	c, err := NewClient(srv.URL+"/", opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))

	_, err = NewClient("ftp://host")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))

	c, err := NewClient("http://localhost:8080/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.baseURL)
	assert.Equal(t, defaultUserAgent, c.userAgent)
	assert.Equal(t, DefaultRetry, c.retry)
}

func TestOptions(t *testing.T) {
	c, err := NewClient("http://localhost:8080",
		WithCaller("dashboard", "2.1"),
		WithRetry(NoRetry),
		WithTimeout(3*time.Second),
		WithHTTPClient(nil),
		WithLogger(nil))
	require.NoError(t, err)
	assert.Equal(t, "dashboard/2.1 "+defaultUserAgent, c.userAgent)
	assert.Equal(t, 0, c.retry.Attempts)
	assert.Equal(t, DefaultRetry.MinWait, c.retry.MinWait)
	assert.Equal(t, DefaultRetry.MinWait, c.retry.MaxWait)
	assert.Equal(t, 3*time.Second, c.httpClient.Timeout)
	assert.NotNil(t, c.logger)

	c, err = NewClient("http://localhost:8080", WithCaller("", "1"),
		WithRetry(RetryPolicy{Attempts: -2, MinWait: time.Second, MaxWait: time.Millisecond}))
	require.NoError(t, err)
	assert.Equal(t, defaultUserAgent, c.userAgent)
	assert.Equal(t, RetryPolicy{Attempts: 0, MinWait: time.Second, MaxWait: time.Second}, c.retry)
}

func TestClient_Status(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/status", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Contains(t, r.Header.Get("User-Agent"), "molgfn-go-client/")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"run_id":"r1","task":"seh_frag","algo":"TB","state":"running","step":25,"total_steps":100,"last_metrics":{"loss":0.5}}`))
	})

	s, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r1", s.RunID)
	assert.Equal(t, "running", s.State)
	assert.Equal(t, 0.5, s.LastMetrics["loss"])
	assert.InDelta(t, 0.25, s.Progress(), 1e-9)
	assert.Equal(t, 0.0, (&Status{}).Progress())
	assert.Equal(t, 1.0, (&Status{Step: 5, TotalSteps: 4}).Progress())
}

func TestClient_GetRunNotFound(t *testing.T) {
	id := uuid.New()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/runs/"+id.String(), r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"NOT_FOUND","message":"run not found"}`))
	})

	_, err := c.GetRun(context.Background(), id)
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsNotFound())
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Equal(t, "run not found", apiErr.Message)
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestClient_TopSamples(t *testing.T) {
	id := uuid.New()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/runs/"+id.String()+"/samples", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"run_id":"` + id.String() + `","samples":[{"step":4,"key":"a","fragments":[1,2],"flat_rewards":[0.8],"log_reward":1.5,"validation":false}]}`))
	})

	samples, err := c.TopSamples(context.Background(), id, 2)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, []int{1, 2}, samples[0].Fragments)
	assert.Equal(t, 1.5, samples[0].LogReward)

	_, err = c.TopSamples(context.Background(), id, 0)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestClient_RetriesBadGateway(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"run_id":"r"}`))
	})

	s, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r", s.RunID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_GivesUpAfterRetryMax(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}, WithRetry(RetryPolicy{Attempts: 1, MinWait: time.Millisecond}))

	_, err := c.Status(context.Background())
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusGatewayTimeout, apiErr.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_NoRetryOnUnavailable(t *testing.T) {
	var calls int32
	id := uuid.New()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":"UNAVAILABLE","message":"results store disabled"}`))
	})

	_, err := c.GetRun(context.Background(), id)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsUnavailable())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_Ready(t *testing.T) {
	var ready atomic.Bool
	ready.Store(true)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/readyz", r.URL.Path)
		if ready.Load() {
			_, _ = w.Write([]byte(`{"status":"ready","components":{"proxy":{"status":"healthy"}}}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_ready","components":{"redis":{"status":"unhealthy","error":"dial"}}}`))
	})

	h, err := c.Ready(context.Background())
	require.NoError(t, err)
	assert.True(t, h.Ready())
	assert.Equal(t, "healthy", h.Components["proxy"].Status)

	ready.Store(false)
	h, err = c.Ready(context.Background())
	require.NoError(t, err)
	assert.False(t, h.Ready())
	assert.Equal(t, "dial", h.Components["redis"].Error)
}

func TestClient_ContextCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, WithRetry(RetryPolicy{Attempts: 3, MinWait: time.Second, MaxWait: time.Second}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Status(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCalculateBackoff(t *testing.T) {
	c := &Client{retry: RetryPolicy{MinWait: 100 * time.Millisecond, MaxWait: 300 * time.Millisecond}}
	b := c.calculateBackoff(1)
	assert.GreaterOrEqual(t, b, 100*time.Millisecond)
	assert.Less(t, b, 125*time.Millisecond)
	b = c.calculateBackoff(5)
	assert.GreaterOrEqual(t, b, 300*time.Millisecond)
	assert.Less(t, b, 375*time.Millisecond)
}
