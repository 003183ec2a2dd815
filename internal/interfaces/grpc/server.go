// Package grpc hosts the reward proxy over gRPC.
package grpc

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/molgfn/pkg/errors"
)

const (
	// Graph batches are JSON; a batch of 512 nine-fragment molecules is
	// well under this.
	defaultMaxRecvMsgSize  = 16 * 1024 * 1024
	defaultGracefulTimeout = 10 * time.Second
)

var defaultKeepaliveParams = keepalive.ServerParameters{
	MaxConnectionIdle: 15 * time.Minute,
	Time:              5 * time.Minute,
	Timeout:           time.Second,
}

// Option configures the Server.
type Option func(*serverOptions)

type serverOptions struct {
	logger          logging.Logger
	metrics         *prometheus.TrainingMetrics
	maxRecvMsgSize  int
	gracefulTimeout time.Duration
	reflection      bool
}

func WithLogger(l logging.Logger) Option {
	return func(o *serverOptions) { o.logger = l }
}

func WithMetrics(m *prometheus.TrainingMetrics) Option {
	return func(o *serverOptions) { o.metrics = m }
}

func WithMaxRecvMsgSize(size int) Option {
	return func(o *serverOptions) {
		if size > 0 {
			o.maxRecvMsgSize = size
		}
	}
}

func WithGracefulTimeout(d time.Duration) Option {
	return func(o *serverOptions) {
		if d > 0 {
			o.gracefulTimeout = d
		}
	}
}

// WithReflection registers the reflection service (grpcurl and friends).
func WithReflection() Option {
	return func(o *serverOptions) { o.reflection = true }
}

// Server wraps a grpc.Server with health reporting and graceful shutdown.
type Server struct {
	grpcServer   *grpc.Server
	listener     net.Listener
	opts         *serverOptions
	healthServer *health.Server
	mu           sync.Mutex
	started      bool
}

// Listen binds a TCP listener on addr.
func Listen(addr string) (net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "failed to listen").WithDetail(addr)
	}
	return lis, nil
}

// NewServer builds a server on lis.
func NewServer(lis net.Listener, opts ...Option) (*Server, error) {
	if lis == nil {
		return nil, errors.InvalidParam("listener must not be nil")
	}
	sopts := &serverOptions{
		maxRecvMsgSize:  defaultMaxRecvMsgSize,
		gracefulTimeout: defaultGracefulTimeout,
	}
	for _, o := range opts {
		o(sopts)
	}
	sopts.logger = logging.OrNop(sopts.logger).Named("grpc")

	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(sopts.maxRecvMsgSize),
		grpc.KeepaliveParams(defaultKeepaliveParams),
		grpc.ChainUnaryInterceptor(
			recoveryUnaryInterceptor(sopts.logger),
			observeUnaryInterceptor(sopts.logger, sopts.metrics),
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if sopts.reflection {
		reflection.Register(gs)
	}

	return &Server{grpcServer: gs, listener: lis, opts: sopts, healthServer: hs}, nil
}

// RegisterService registers impl and marks it serving.  Call before Start.
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	s.grpcServer.RegisterService(desc, impl)
	s.healthServer.SetServingStatus(desc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.opts.logger.Info("grpc service registered", logging.String("service", desc.ServiceName))
}

// Start serves until Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New(errors.CodeConflict, "server already started")
	}
	s.started = true
	s.mu.Unlock()

	s.opts.logger.Info("grpc server starting", logging.String("address", s.Addr()))
	return s.grpcServer.Serve(s.listener)
}

// Stop drains in-flight calls, forcing a stop when the graceful period ends.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	s.healthServer.Shutdown()

	ctx, cancel := context.WithTimeout(ctx, s.opts.gracefulTimeout)
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.opts.logger.Info("grpc server stopped gracefully")
	case <-ctx.Done():
		s.opts.logger.Warn("grpc graceful stop timed out, forcing stop")
		s.grpcServer.Stop()
	}
	return nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// WatchHealth polls check every interval and publishes the result as the
// serving status of service until ctx ends.
func (s *Server) WatchHealth(ctx context.Context, service string, interval time.Duration, check func(context.Context) error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	last := healthpb.HealthCheckResponse_SERVING
	probe := func() {
		cctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		next := healthpb.HealthCheckResponse_SERVING
		if err := check(cctx); err != nil {
			next = healthpb.HealthCheckResponse_NOT_SERVING
			if last != next {
				s.opts.logger.Warn("backend unhealthy", logging.String("service", service), logging.Err(err))
			}
		}
		if next != last {
			s.healthServer.SetServingStatus(service, next)
			s.healthServer.SetServingStatus("", next)
			last = next
		}
	}
	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

func recoveryUnaryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered in handler",
					logging.String("method", info.FullMethod),
					logging.String("panic", fmt.Sprint(r)),
					logging.String("stack", string(debug.Stack())),
				)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

func isHealthCheck(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.v1.Health/")
}

// observeUnaryInterceptor logs each call and records its latency.  Health
// probes are skipped.
func observeUnaryInterceptor(logger logging.Logger, m *prometheus.TrainingMetrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if isHealthCheck(info.FullMethod) {
			return handler(ctx, req)
		}
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)
		code := status.Code(err).String()
		if m != nil {
			prometheus.RecordGRPCRequest(m, info.FullMethod, code, elapsed)
		}
		fields := []logging.Field{
			logging.String("method", info.FullMethod),
			logging.String("code", code),
			logging.Duration("elapsed", elapsed),
		}
		if err != nil {
			logger.Warn("grpc call failed", append(fields, logging.Err(err))...)
		} else {
			logger.Debug("grpc call", fields...)
		}
		return resp, err
	}
}
