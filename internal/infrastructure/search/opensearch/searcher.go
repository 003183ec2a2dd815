package opensearch

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/opensearch-project/opensearch-go/v3/opensearchapi"

	"github.com/turtacn/molgfn/internal/domain/experiment"
	"github.com/turtacn/molgfn/pkg/errors"
)

const maxPageSize = 1000

// SampleQuery filters indexed samples.  Samples must contain every fragment
// in Fragments.
type SampleQuery struct {
	RunID          uuid.UUID
	Fragments      []int
	ValidationOnly bool
	MinLogReward   *float64
	Size           int
}

func (q SampleQuery) body() map[string]any {
	var filters []map[string]any
	if q.RunID != uuid.Nil {
		filters = append(filters, map[string]any{"term": map[string]any{"run_id": q.RunID.String()}})
	}
	for _, f := range q.Fragments {
		filters = append(filters, map[string]any{"term": map[string]any{"fragments": f}})
	}
	if q.ValidationOnly {
		filters = append(filters, map[string]any{"term": map[string]any{"validation": true}})
	}
	if q.MinLogReward != nil {
		filters = append(filters, map[string]any{"range": map[string]any{"log_reward": map[string]any{"gte": *q.MinLogReward}}})
	}
	query := map[string]any{"match_all": map[string]any{}}
	if len(filters) > 0 {
		query = map[string]any{"bool": map[string]any{"filter": filters}}
	}
	size := q.Size
	if size <= 0 {
		size = 10
	}
	return map[string]any{
		"size":  min(size, maxPageSize),
		"query": query,
		"sort":  []any{map[string]any{"log_reward": map[string]any{"order": "desc"}}},
	}
}

// Search returns matching samples ordered by log-reward, best first.
func (c *Client) Search(ctx context.Context, q SampleQuery) ([]experiment.Sample, error) {
	body, err := json.Marshal(q.body())
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "failed to marshal query")
	}
	resp, err := c.api.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{c.index},
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExternal, "search failed").WithDetail(c.index)
	}
	out := make([]experiment.Sample, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var s experiment.Sample
		if err := json.Unmarshal(hit.Source, &s); err != nil {
			return nil, errors.Wrap(err, errors.CodeSerialization, "failed to decode hit").WithDetail(hit.ID)
		}
		out = append(out, s)
	}
	return out, nil
}

// TopSamples is Search restricted to one run.
func (c *Client) TopSamples(ctx context.Context, runID uuid.UUID, limit int) ([]experiment.Sample, error) {
	if limit <= 0 {
		return nil, errors.InvalidParam("limit must be positive")
	}
	return c.Search(ctx, SampleQuery{RunID: runID, Size: limit})
}
