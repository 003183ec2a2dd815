package minio

import (
	"bytes"
	"context"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

// ArtifactInfo describes one mirrored object.
type ArtifactInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ArtifactMirror uploads experiment files under runs/<run id>/.
type ArtifactMirror struct {
	client *Client
	prefix string
}

func NewArtifactMirror(c *Client) *ArtifactMirror {
	return &ArtifactMirror{client: c, prefix: "runs"}
}

// ObjectKey returns the key relPath of runID is stored under.
func (m *ArtifactMirror) ObjectKey(runID uuid.UUID, relPath string) string {
	return path.Join(m.prefix, runID.String(), strings.TrimLeft(path.Clean("/"+relPath), "/"))
}

// MirrorFile uploads data, replacing any previous copy.
func (m *ArtifactMirror) MirrorFile(ctx context.Context, runID uuid.UUID, relPath string, data []byte) error {
	if relPath == "" {
		return errors.InvalidParam("artifact path required")
	}
	key := m.ObjectKey(runID, relPath)
	info, err := m.client.api.PutObject(ctx, m.client.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  contentType(relPath),
			UserMetadata: map[string]string{"run-id": runID.String()},
		})
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "upload failed").WithDetail(key)
	}
	m.client.logger.Debug("artifact mirrored", logging.String("key", key), logging.Int64("size", info.Size))
	return nil
}

func (m *ArtifactMirror) Exists(ctx context.Context, runID uuid.UUID, relPath string) (bool, error) {
	_, err := m.client.api.StatObject(ctx, m.client.bucket, m.ObjectKey(runID, relPath), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, errors.Wrap(err, errors.CodeStorageError, "stat failed")
}

// List returns every artifact of runID, keys relative to the run prefix.
func (m *ArtifactMirror) List(ctx context.Context, runID uuid.UUID) ([]ArtifactInfo, error) {
	runPrefix := path.Join(m.prefix, runID.String()) + "/"
	var out []ArtifactInfo
	for obj := range m.client.api.ListObjects(ctx, m.client.bucket, minio.ListObjectsOptions{Prefix: runPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.CodeStorageError, "list failed")
		}
		out = append(out, ArtifactInfo{
			Key:          strings.TrimPrefix(obj.Key, runPrefix),
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return out, nil
}

// Purge removes every artifact of runID and returns how many were removed.
func (m *ArtifactMirror) Purge(ctx context.Context, runID uuid.UUID) (int, error) {
	items, err := m.List(ctx, runID)
	if err != nil {
		return 0, err
	}
	for i, it := range items {
		if err := m.client.api.RemoveObject(ctx, m.client.bucket, m.ObjectKey(runID, it.Key), minio.RemoveObjectOptions{}); err != nil {
			return i, errors.Wrap(err, errors.CodeStorageError, "remove failed").WithDetail(it.Key)
		}
	}
	return len(items), nil
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
