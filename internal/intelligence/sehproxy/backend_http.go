package sehproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/turtacn/molgfn/internal/intelligence/common"
	"github.com/turtacn/molgfn/pkg/errors"
)

// HTTP routes served by the proxy server and called by HTTPBackend.
const (
	PredictPath = "/v1/predict"
	HealthPath  = "/healthz"
)

// maxResponseBytes caps a decoded response body.
const maxResponseBytes = 64 << 20

// HTTPBackend calls a remote proxy over JSON/HTTP.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend returns a backend for the server at baseURL.
func NewHTTPBackend(baseURL string, timeout time.Duration) (*HTTPBackend, error) {
	if baseURL == "" {
		return nil, errors.InvalidParam("proxy endpoint is required")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Predict posts req and decodes the PredictResponse.
func (b *HTTPBackend) Predict(ctx context.Context, req *common.PredictRequest) (*common.PredictResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "encode proxy request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+PredictPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "proxy request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "read proxy response")
	}
	if resp.StatusCode != http.StatusOK {
		code := errors.CodeExternal
		if resp.StatusCode >= 500 {
			code = errors.CodeUnavailable
		}
		return nil, errors.New(code, "proxy returned error status").
			WithDetail(fmt.Sprintf("%d: %s", resp.StatusCode, bytes.TrimSpace(data)))
	}
	var out common.PredictResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "decode proxy response")
	}
	return &out, nil
}

// Healthy probes HealthPath.
func (b *HTTPBackend) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+HealthPath, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.CodeUnavailable, "proxy health probe failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.CodeUnavailable, "proxy is unhealthy").WithDetailf("status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (b *HTTPBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
