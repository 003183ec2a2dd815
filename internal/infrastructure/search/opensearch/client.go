// Package opensearch indexes validation samples for ad-hoc search.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v3"
	"github.com/opensearch-project/opensearch-go/v3/opensearchapi"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

const DefaultIndex = "molgfn-samples"

// Client wraps the typed OpenSearch API bound to one sample index.
type Client struct {
	api     *opensearchapi.Client
	index   string
	logger  logging.Logger
	healthy atomic.Bool
}

// NewClient builds the client and pings the cluster.
func NewClient(ctx context.Context, cfg config.OpenSearchConfig, log logging.Logger) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.InvalidConfig("opensearch addresses are required")
	}
	api, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses:     cfg.Addresses,
			Username:      cfg.Username,
			Password:      cfg.Password,
			MaxRetries:    3,
			RetryOnStatus: []int{502, 503, 504, 429},
			Transport:     &http.Transport{MaxIdleConnsPerHost: 10, ResponseHeaderTimeout: 30 * time.Second},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExternal, "failed to create opensearch client")
	}
	index := cfg.Index
	if index == "" {
		index = DefaultIndex
	}
	c := &Client{api: api, index: index, logger: logging.OrNop(log).Named("opensearch")}
	if err := c.Ping(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Index() string { return c.index }

// Ping records and returns cluster reachability.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.api.Ping(ctx, nil)
	if err != nil {
		c.healthy.Store(false)
		c.logger.Warn("OpenSearch ping failed", logging.Err(err))
		return errors.Wrap(err, errors.CodeUnavailable, "opensearch ping failed")
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	c.healthy.Store(true)
	return nil
}

func (c *Client) IsHealthy() bool { return c.healthy.Load() }

// EnsureIndex creates the sample index with its mapping when missing.
func (c *Client) EnsureIndex(ctx context.Context) error {
	resp, err := c.api.Indices.Exists(ctx, opensearchapi.IndicesExistsReq{Indices: []string{c.index}})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	switch {
	case resp != nil && resp.StatusCode == http.StatusOK:
		return nil
	case resp != nil && resp.StatusCode == http.StatusNotFound:
	case err != nil:
		return errors.Wrap(err, errors.CodeExternal, "failed to check index").WithDetail(c.index)
	}

	body, err := json.Marshal(sampleMapping())
	if err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "failed to marshal index mapping")
	}
	if _, err := c.api.Indices.Create(ctx, opensearchapi.IndicesCreateReq{Index: c.index, Body: bytes.NewReader(body)}); err != nil {
		return errors.Wrap(err, errors.CodeExternal, "failed to create index").WithDetail(c.index)
	}
	c.logger.Info("Index created", logging.String("index", c.index))
	return nil
}

func sampleMapping() map[string]any {
	prop := func(t string) map[string]any { return map[string]any{"type": t} }
	return map[string]any{
		"settings": map[string]any{"number_of_shards": 1, "number_of_replicas": 0},
		"mappings": map[string]any{
			"properties": map[string]any{
				"run_id":       prop("keyword"),
				"key":          prop("keyword"),
				"notation":     prop("keyword"),
				"step":         prop("integer"),
				"fragments":    prop("integer"),
				"flat_rewards": prop("float"),
				"log_reward":   prop("double"),
				"preference":   prop("float"),
				"validation":   prop("boolean"),
				"created_at":   prop("date"),
			},
		},
	}
}
