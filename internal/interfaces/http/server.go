package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/molgfn/pkg/errors"
)

// Server runs the status API next to a trainer.
type Server struct {
	srv             *http.Server
	logger          logging.Logger
	shutdownTimeout time.Duration
}

func NewServer(cfg config.HTTPConfig, handler http.Handler, log logging.Logger) *Server {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger:          logging.OrNop(log).Named("http"),
		shutdownTimeout: timeout,
	}
}

// Start serves until Stop; a clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", logging.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "http server failed").WithDetail(s.srv.Addr)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "http server shutdown failed")
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}
