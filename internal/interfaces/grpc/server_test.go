package grpc

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/intelligence/common"
	"github.com/turtacn/molgfn/internal/intelligence/sehproxy"
	"github.com/turtacn/molgfn/internal/testutil"
	apperrors "github.com/turtacn/molgfn/pkg/errors"
)

func startProxy(t *testing.T, backend common.ModelBackend) *sehproxy.GRPCBackend {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv, err := NewServer(lis, WithGracefulTimeout(time.Second))
	require.NoError(t, err)
	NewProxyService(backend).Register(srv)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	client, err := sehproxy.NewGRPCBackend(context.Background(), "passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func graphs(t *testing.T) []*molecule.MolecularGraph {
	t.Helper()
	tk := molecule.NewDescriptorToolkit(nil)
	var out []*molecule.MolecularGraph
	for _, frags := range [][]int{{10, 5}, {11, 0}, {15}} {
		g := &molecule.Graph{}
		g.AddNode(frags[0], -1)
		for _, f := range frags[1:] {
			g.AddNode(f, 0)
		}
		mg, err := tk.ToGraph(g)
		require.NoError(t, err)
		out = append(out, mg)
	}
	return out
}

func TestProxyService_EndToEnd(t *testing.T) {
	client := startProxy(t, sehproxy.NewLocalBackend(""))
	require.NoError(t, client.Healthy(context.Background()))

	m, err := sehproxy.NewManager(sehproxy.DefaultConfig(), client, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Load(context.Background()))

	gs := graphs(t)
	got, err := m.Predict(context.Background(), gs)
	require.NoError(t, err)
	require.Len(t, got, len(gs))
	for i, g := range gs {
		assert.InDelta(t, sehproxy.SurrogateScore(g), got[i], 1e-9)
	}
}

func TestProxyService_InvalidRequest(t *testing.T) {
	client := startProxy(t, sehproxy.NewLocalBackend(""))
	_, err := client.Predict(context.Background(), &common.PredictRequest{ModelName: "seh"})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

type failingBackend struct{ err error }

func (f failingBackend) Predict(context.Context, *common.PredictRequest) (*common.PredictResponse, error) {
	return nil, f.err
}
func (failingBackend) Healthy(context.Context) error { return nil }
func (failingBackend) Close() error                  { return nil }

func TestProxyService_MapsBackendErrors(t *testing.T) {
	req := &common.PredictRequest{ModelName: "seh", InputData: []byte(`{}`), InputFormat: common.FormatJSON}
	in, err := sehproxy.RequestToStruct(req)
	require.NoError(t, err)

	cases := []struct {
		err  error
		code codes.Code
	}{
		{apperrors.InvalidParam("bad"), codes.InvalidArgument},
		{apperrors.New(apperrors.CodeUnavailable, "down"), codes.Unavailable},
		{apperrors.New(apperrors.CodeTimeout, "slow"), codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		_, err := NewProxyService(failingBackend{tc.err}).Predict(context.Background(), in)
		assert.Equal(t, tc.code, status.Code(err), tc.err.Error())
	}
}

func TestNewServer_NilListener(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)
}

func TestServer_DoubleStartAndStopBeforeStart(t *testing.T) {
	srv, err := NewServer(bufconn.Listen(1024))
	require.NoError(t, err)
	require.NoError(t, srv.Stop(context.Background()))

	go func() { _ = srv.Start() }()
	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return srv.started
	}, time.Second, 10*time.Millisecond)
	assert.True(t, apperrors.IsCode(srv.Start(), apperrors.CodeConflict))
	require.NoError(t, srv.Stop(context.Background()))
}

func TestRecoveryUnaryInterceptor(t *testing.T) {
	rec := testutil.NewRecordingLogger()
	ic := recoveryUnaryInterceptor(rec)
	_, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(context.Context, interface{}) (interface{}, error) { panic("kaboom") })
	assert.Equal(t, codes.Internal, status.Code(err))

	e, ok := rec.Find("error", "panic recovered")
	require.True(t, ok)
	p, _ := e.Field("panic")
	assert.Equal(t, "kaboom", p)
	m, _ := e.Field("method")
	assert.Equal(t, "/x/Y", m)
}

func TestIsHealthCheck(t *testing.T) {
	assert.True(t, isHealthCheck("/grpc.health.v1.Health/Check"))
	assert.False(t, isHealthCheck(sehproxy.PredictFullMethod))
}

func TestObserveUnaryInterceptor(t *testing.T) {
	rec := testutil.NewRecordingLogger()
	ic := observeUnaryInterceptor(rec, nil)
	info := &grpc.UnaryServerInfo{FullMethod: sehproxy.PredictFullMethod}

	_, err := ic(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "down")
	})
	require.Error(t, err)
	e, ok := rec.Find("warn", "grpc call failed")
	require.True(t, ok)
	c, _ := e.Field("code")
	assert.Equal(t, "Unavailable", c)

	rec.Reset()
	_, err = ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"},
		func(context.Context, interface{}) (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Empty(t, rec.Entries())
}

func TestServer_WatchHealth(t *testing.T) {
	srv, err := NewServer(bufconn.Listen(1024))
	require.NoError(t, err)
	var healthy atomic.Bool
	healthy.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.WatchHealth(ctx, sehproxy.ServiceName, 5*time.Millisecond, func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("backend down")
	})

	servingStatus := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := srv.healthServer.Check(context.Background(), &healthpb.HealthCheckRequest{Service: sehproxy.ServiceName})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.Status
	}

	healthy.Store(false)
	require.Eventually(t, func() bool {
		return servingStatus() == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)

	healthy.Store(true)
	require.Eventually(t, func() bool {
		return servingStatus() == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)
}
