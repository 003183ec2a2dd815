package minio

import (
	"context"
	stderrors "errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

type mockMinIOAPI struct {
	mock.Mock
}

func (m *mockMinIOAPI) ListBuckets(ctx context.Context) ([]minio.BucketInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).([]minio.BucketInfo), args.Error(1)
}

func (m *mockMinIOAPI) BucketExists(ctx context.Context, bucket string) (bool, error) {
	args := m.Called(ctx, bucket)
	return args.Bool(0), args.Error(1)
}

func (m *mockMinIOAPI) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	return m.Called(ctx, bucket, opts).Error(0)
}

func (m *mockMinIOAPI) PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	body, _ := io.ReadAll(r)
	args := m.Called(ctx, bucket, object, string(body), size, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *mockMinIOAPI) StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	args := m.Called(ctx, bucket, object, opts)
	return args.Get(0).(minio.ObjectInfo), args.Error(1)
}

func (m *mockMinIOAPI) ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	args := m.Called(ctx, bucket, opts)
	ch := make(chan minio.ObjectInfo, len(args.Get(0).([]minio.ObjectInfo)))
	for _, o := range args.Get(0).([]minio.ObjectInfo) {
		ch <- o
	}
	close(ch)
	return ch
}

func (m *mockMinIOAPI) RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error {
	return m.Called(ctx, bucket, object, opts).Error(0)
}

type MirrorTestSuite struct {
	suite.Suite
	api    *mockMinIOAPI
	client *Client
	mirror *ArtifactMirror
	runID  uuid.UUID
	ctx    context.Context
}

func (s *MirrorTestSuite) SetupTest() {
	s.api = new(mockMinIOAPI)
	s.client = newClientWithAPI(s.api, config.MinIOConfig{}, logging.NewNopLogger())
	s.mirror = NewArtifactMirror(s.client)
	s.runID = uuid.MustParse("6f1c2a4e-0000-4000-8000-000000000001")
	s.ctx = context.Background()
}

func (s *MirrorTestSuite) TearDownTest() {
	s.api.AssertExpectations(s.T())
}

func (s *MirrorTestSuite) TestDefaults() {
	s.Equal(DefaultBucket, s.client.Bucket())
	s.Equal("us-east-1", s.client.region)
}

func (s *MirrorTestSuite) TestEnsureBucket_Creates() {
	s.api.On("BucketExists", s.ctx, DefaultBucket).Return(false, nil).Once()
	s.api.On("MakeBucket", s.ctx, DefaultBucket, minio.MakeBucketOptions{Region: "us-east-1"}).Return(nil).Once()
	s.NoError(s.client.EnsureBucket(s.ctx))
}

func (s *MirrorTestSuite) TestEnsureBucket_Exists() {
	s.api.On("BucketExists", s.ctx, DefaultBucket).Return(true, nil).Once()
	s.NoError(s.client.EnsureBucket(s.ctx))
}

func (s *MirrorTestSuite) TestHealthCheck() {
	s.api.On("BucketExists", s.ctx, DefaultBucket).Return(false, stderrors.New("down")).Once()
	st := s.client.HealthCheck(s.ctx)
	s.False(st.Healthy)
	s.Equal("down", st.Error)
}

func (s *MirrorTestSuite) TestObjectKey() {
	s.Equal("runs/"+s.runID.String()+"/checkpoints/model_state_4.ckpt",
		s.mirror.ObjectKey(s.runID, "checkpoints/model_state_4.ckpt"))
	s.Equal("runs/"+s.runID.String()+"/etc/passwd", s.mirror.ObjectKey(s.runID, "../../etc/passwd"))
}

func (s *MirrorTestSuite) TestMirrorFile() {
	key := s.mirror.ObjectKey(s.runID, "hps.json")
	s.api.On("PutObject", s.ctx, DefaultBucket, key, `{"a":1}`, int64(7),
		mock.MatchedBy(func(o minio.PutObjectOptions) bool {
			return o.ContentType == "application/json" && o.UserMetadata["run-id"] == s.runID.String()
		})).Return(minio.UploadInfo{Size: 7}, nil).Once()

	s.NoError(s.mirror.MirrorFile(s.ctx, s.runID, "hps.json", []byte(`{"a":1}`)))
}

func (s *MirrorTestSuite) TestMirrorFile_Errors() {
	s.True(errors.IsCode(s.mirror.MirrorFile(s.ctx, s.runID, "", nil), errors.CodeInvalidParam))

	s.api.On("PutObject", s.ctx, DefaultBucket, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, stderrors.New("denied")).Once()
	err := s.mirror.MirrorFile(s.ctx, s.runID, "hps.yaml", []byte("a: 1"))
	s.True(errors.IsCode(err, errors.CodeStorageError))
}

func (s *MirrorTestSuite) TestExists() {
	present := s.mirror.ObjectKey(s.runID, "hps.json")
	missing := s.mirror.ObjectKey(s.runID, "nope.json")
	s.api.On("StatObject", s.ctx, DefaultBucket, present, minio.StatObjectOptions{}).Return(minio.ObjectInfo{Key: present}, nil)
	s.api.On("StatObject", s.ctx, DefaultBucket, missing, minio.StatObjectOptions{}).
		Return(minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey"})

	ok, err := s.mirror.Exists(s.ctx, s.runID, "hps.json")
	s.NoError(err)
	s.True(ok)
	ok, err = s.mirror.Exists(s.ctx, s.runID, "nope.json")
	s.NoError(err)
	s.False(ok)
}

func (s *MirrorTestSuite) TestListAndPurge() {
	prefix := "runs/" + s.runID.String() + "/"
	now := time.Now()
	objs := []minio.ObjectInfo{
		{Key: prefix + "hps.json", Size: 10, LastModified: now},
		{Key: prefix + "checkpoints/model_state_2.ckpt", Size: 100, LastModified: now},
	}
	s.api.On("ListObjects", s.ctx, DefaultBucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}).Return(objs)
	s.api.On("RemoveObject", s.ctx, DefaultBucket, mock.Anything, minio.RemoveObjectOptions{}).Return(nil).Twice()

	items, err := s.mirror.List(s.ctx, s.runID)
	s.Require().NoError(err)
	s.Require().Len(items, 2)
	s.Equal("checkpoints/model_state_2.ckpt", items[1].Key)

	n, err := s.mirror.Purge(s.ctx, s.runID)
	s.NoError(err)
	s.Equal(2, n)
}

func (s *MirrorTestSuite) TestContentType() {
	s.Equal("application/yaml", contentType("hps.yaml"))
	s.Equal("application/x-ndjson", contentType("events.jsonl"))
	s.Equal("image/png", contentType("hist.png"))
	s.Equal("application/octet-stream", contentType("model_state_2.ckpt"))
}

func TestMirrorTestSuite(t *testing.T) {
	suite.Run(t, new(MirrorTestSuite))
}
