package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/internal/intelligence/sehproxy"
	grpcapi "github.com/turtacn/molgfn/internal/interfaces/grpc"
	httpapi "github.com/turtacn/molgfn/internal/interfaces/http"
	"github.com/turtacn/molgfn/internal/interfaces/http/handlers"
	"github.com/turtacn/molgfn/pkg/errors"
)

func newServeProxyCommand() *cobra.Command {
	var (
		addr       string
		reflection bool
	)
	cmd := &cobra.Command{
		Use:   "serve-proxy",
		Short: "Serve the reward proxy over gRPC",
		Long: "serve-proxy exposes the configured proxy backend to remote trainers, which reach it\n" +
			"with proxy.backend=grpc and proxy.endpoint set to this address.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			cfg := cliCtx.Config
			if cmd.Flags().Changed("addr") {
				cfg.Proxy.ServeAddr = addr
			}
			if cfg.Proxy.ServeAddr == "" {
				return errors.InvalidParam("--addr or proxy.serve_addr is required")
			}
			if cfg.Proxy.Backend == sehproxy.BackendGRPC {
				return errors.InvalidConfig("serve-proxy cannot forward to another gRPC proxy")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServeProxy(ctx, cliCtx, reflection)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (proxy.serve_addr)")
	cmd.Flags().BoolVar(&reflection, "reflection", false, "enable gRPC server reflection")
	return cmd
}

func runServeProxy(ctx context.Context, cliCtx *CLIContext, reflection bool) error {
	cfg, logger := cliCtx.Config, cliCtx.Logger
	st, err := newStack(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	backend, err := sehproxy.NewBackend(ctx, cfg.Proxy)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	lis, err := grpcapi.Listen(cfg.Proxy.ServeAddr)
	if err != nil {
		return err
	}
	opts := []grpcapi.Option{grpcapi.WithLogger(logger), grpcapi.WithMetrics(st.metrics)}
	if reflection {
		opts = append(opts, grpcapi.WithReflection())
	}
	srv, err := grpcapi.NewServer(lis, opts...)
	if err != nil {
		_ = lis.Close()
		return err
	}
	grpcapi.NewProxyService(backend).Register(srv)

	if cfg.HTTP.Addr != "" {
		router := httpapi.NewRouter(httpapi.RouterConfig{
			Mode:           cfg.HTTP.Mode,
			HealthHandler:  handlers.NewHealthHandler(Version, handlers.CheckFunc("backend", backend.Healthy)),
			MetricsHandler: st.collector.Handler(),
			Metrics:        st.metrics,
			Logger:         logger,
		})
		hs := httpapi.NewServer(cfg.HTTP, router, logger)
		go func() {
			if err := hs.Start(); err != nil {
				logger.Error("metrics server stopped", logging.Err(err))
			}
		}()
		defer func() { _ = hs.Stop(context.Background()) }()
	}

	go srv.WatchHealth(ctx, sehproxy.ServiceName, 15*time.Second, backend.Healthy)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	logger.Info("proxy server started", logging.String("addr", srv.Addr()), logging.String("backend", cfg.Proxy.Backend))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	return srv.Stop(context.Background())
}
