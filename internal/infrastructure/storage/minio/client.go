package minio

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

// MinIOAPI is the subset of *minio.Client used here.
type MinIOAPI interface {
	ListBuckets(ctx context.Context) ([]minio.BucketInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

const DefaultBucket = "molgfn-artifacts"

// Client wraps a minio client bound to one artifact bucket.
type Client struct {
	api    MinIOAPI
	bucket string
	region string
	logger logging.Logger
}

func applyDefaults(cfg *config.MinIOConfig) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
}

// NewClient connects to the endpoint and makes sure the bucket exists.
func NewClient(ctx context.Context, cfg config.MinIOConfig, log logging.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.InvalidConfig("minio endpoint required")
	}
	applyDefaults(&cfg)

	api, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "failed to create minio client")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := api.ListBuckets(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "failed to connect to minio")
	}
	c := newClientWithAPI(api, cfg, log)
	if err := c.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	c.logger.Info("MinIO client connected", logging.String("endpoint", cfg.Endpoint), logging.String("bucket", cfg.Bucket))
	return c, nil
}

func newClientWithAPI(api MinIOAPI, cfg config.MinIOConfig, log logging.Logger) *Client {
	applyDefaults(&cfg)
	return &Client{api: api, bucket: cfg.Bucket, region: cfg.Region, logger: logging.OrNop(log).Named("minio")}
}

func (c *Client) Bucket() string { return c.bucket }

func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to check bucket existence")
	}
	if exists {
		return nil
	}
	if err := c.api.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to create bucket").WithDetail(c.bucket)
	}
	c.logger.Info("Created bucket", logging.String("bucket", c.bucket))
	return nil
}

type HealthStatus struct {
	Healthy bool
	Latency time.Duration
	Error   string
}

func (c *Client) HealthCheck(ctx context.Context) *HealthStatus {
	start := time.Now()
	exists, err := c.api.BucketExists(ctx, c.bucket)
	status := &HealthStatus{Healthy: err == nil && exists, Latency: time.Since(start)}
	switch {
	case err != nil:
		status.Error = err.Error()
	case !exists:
		status.Error = "bucket " + c.bucket + " missing"
	}
	return status
}
