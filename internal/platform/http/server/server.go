// Package server wires the HTTP surface and owns the listener lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MahdiBaghbani/localbox-go/internal/platform/deps"
	tlspkg "github.com/MahdiBaghbani/localbox-go/internal/platform/http/tls"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/origin"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	deps         *deps.Deps
	logger       *slog.Logger
	publicOrigin string
	handler      http.Handler
	httpServer   *http.Server
}

// New builds the server and its route table from d.
func New(d *deps.Deps) (*Server, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	publicOrigin, err := origin.Normalize(d.Config.PublicOrigin)
	if err != nil {
		return nil, err
	}
	s := &Server{deps: d, logger: logutil.NoopIfNil(d.Logger), publicOrigin: publicOrigin}
	s.handler = s.setupRoutes()

	cfg := d.Config.Server
	s.httpServer = &http.Server{
		Addr:              d.Config.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(cfg.IdleTimeoutMS) * time.Millisecond,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens until Shutdown is called. It returns http.ErrServerClosed
// after a graceful shutdown.
func (s *Server) Start() error {
	cfg := s.deps.Config
	s.logger.Info("starting server",
		"addr", cfg.ListenAddr,
		"public_origin", cfg.PublicOrigin,
		"tls_mode", cfg.TLS.Mode,
		"bindpoint", cfg.Filesystem.Bindpoint,
		"database", s.deps.Store.Name(),
	)

	hostname := "localhost"
	if cfg.PublicOrigin != "" {
		h, err := origin.Hostname(cfg.PublicOrigin)
		if err != nil {
			return fmt.Errorf("derive TLS hostname: %w", err)
		}
		hostname = h
	}
	tlsConfig, err := tlspkg.ServerConfig(&cfg.TLS, hostname, s.logger)
	if err != nil {
		return fmt.Errorf("configure TLS: %w", err)
	}
	if tlsConfig == nil {
		return s.httpServer.ListenAndServe()
	}
	s.httpServer.TLSConfig = tlsConfig
	return s.httpServer.ListenAndServeTLS("", "")
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// expires, then releases the shared dependencies.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	httpErr := s.httpServer.Shutdown(ctx)
	if errors.Is(httpErr, http.ErrServerClosed) {
		httpErr = nil
	}
	return errors.Join(httpErr, s.deps.Close())
}
