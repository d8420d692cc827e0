// Package chassis runs the resolver's HTTP listener: plain HTTP or TLS with
// either supplied certificates or a generated development certificate,
// security headers on every response, and graceful shutdown.
package chassis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const defaultShutdownTimeout = 15 * time.Second

// Config holds configuration for the chassis server.
type Config struct {
	Addr       string // listen address, e.g. ":8430"
	CertFile   string
	KeyFile    string
	SelfSigned bool // generate a development certificate when no files are set
	Handler    http.Handler
	Logger     *slog.Logger

	ShutdownTimeout time.Duration
}

// Server serves one handler over TCP.
type Server struct {
	addr            string
	logger          *slog.Logger
	tlsCfg          *tls.Config
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// New builds a Server. It fails when the TLS material cannot be loaded.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Handler == nil {
		return nil, errors.New("chassis: no handler")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	tlsCfg, err := TLSConfig(cfg.CertFile, cfg.KeyFile, cfg.SelfSigned)
	if err != nil {
		return nil, err
	}
	switch {
	case tlsCfg == nil:
		cfg.Logger.Info("TLS disabled, serving plain HTTP")
	case cfg.CertFile != "":
		cfg.Logger.Info("TLS: certificate loaded", "cert", cfg.CertFile)
	default:
		cfg.Logger.Info("TLS: self-signed dev cert generated")
	}

	return &Server{
		addr:            cfg.Addr,
		logger:          cfg.Logger,
		tlsCfg:          tlsCfg,
		shutdownTimeout: cfg.ShutdownTimeout,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           securityHeaders(cfg.Handler),
			TLSConfig:         tlsCfg,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}, nil
}

// TLS reports whether the server terminates TLS.
func (s *Server) TLS() bool { return s.tlsCfg != nil }

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
// Serve closes ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.tlsCfg != nil {
		ln = tls.NewListener(ln, s.tlsCfg)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("resolver listening", "addr", ln.Addr().String(), "tls", s.TLS())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// securityHeaders wraps an http.Handler and adds standard security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
