package opensearch

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/opensearch-project/opensearch-go/v3/opensearchapi"

	"github.com/turtacn/molgfn/internal/domain/experiment"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

const defaultBatchSize = 500

// BulkItemError describes one rejected document.
type BulkItemError struct {
	DocID     string
	ErrorType string
	Reason    string
}

// BulkResult summarizes a bulk run.
type BulkResult struct {
	Succeeded int
	Failed    int
	Errors    []BulkItemError
}

// SampleIndexer bulk-indexes samples.  Document ids are run/key so a
// re-export of the same molecule overwrites instead of duplicating.
type SampleIndexer struct {
	client    *Client
	batchSize int
	refresh   string
}

func NewSampleIndexer(client *Client, batchSize int) *SampleIndexer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &SampleIndexer{client: client, batchSize: batchSize, refresh: "false"}
}

func DocumentID(s experiment.Sample) string {
	return s.RunID.String() + "/" + s.Key
}

// ExportSamples indexes samples and fails when any document is rejected.
func (i *SampleIndexer) ExportSamples(ctx context.Context, samples []experiment.Sample) error {
	res, err := i.BulkIndex(ctx, samples)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		first := res.Errors[0]
		return errors.Newf(errors.CodeExternal, "%d of %d samples rejected: %s", res.Failed, len(samples), first.Reason).
			WithDetail(first.DocID)
	}
	return nil
}

// BulkIndex sends samples in batches and collects per-item failures.
func (i *SampleIndexer) BulkIndex(ctx context.Context, samples []experiment.Sample) (*BulkResult, error) {
	result := &BulkResult{}
	for start := 0; start < len(samples); start += i.batchSize {
		end := min(start+i.batchSize, len(samples))

		var buf bytes.Buffer
		for _, s := range samples[start:end] {
			meta, _ := json.Marshal(map[string]any{"index": map[string]string{"_index": i.client.index, "_id": DocumentID(s)}})
			doc, err := json.Marshal(s)
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, BulkItemError{DocID: DocumentID(s), ErrorType: "serialization_error", Reason: err.Error()})
				continue
			}
			buf.Write(meta)
			buf.WriteByte('\n')
			buf.Write(doc)
			buf.WriteByte('\n')
		}
		if buf.Len() == 0 {
			continue
		}

		resp, err := i.client.api.Bulk(ctx, opensearchapi.BulkReq{
			Index:  i.client.index,
			Body:   bytes.NewReader(buf.Bytes()),
			Params: opensearchapi.BulkParams{Refresh: i.refresh},
		})
		if err != nil {
			return result, errors.Wrap(err, errors.CodeExternal, "bulk request failed")
		}
		for _, item := range resp.Items {
			for _, v := range item {
				if v.Status >= 200 && v.Status < 300 {
					result.Succeeded++
					continue
				}
				result.Failed++
				e := BulkItemError{DocID: v.ID}
				if v.Error != nil {
					e.ErrorType, e.Reason = v.Error.Type, v.Error.Reason
				}
				result.Errors = append(result.Errors, e)
			}
		}
	}

	i.client.logger.Info("Bulk index completed",
		logging.Int("total", len(samples)),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed))
	return result, nil
}
