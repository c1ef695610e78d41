package infra

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPServer serves the API and owns the shutdown order: in-flight requests
// drain first, then the registered background components stop.
type HTTPServer struct {
	server          *http.Server
	shutdownTimeout time.Duration
	logger          *Logger

	mu     sync.Mutex
	onStop []func()
}

// NewHTTPServer creates a server for handler using the timeouts in cfg.
func NewHTTPServer(cfg *Config, handler http.Handler, logger *Logger) *HTTPServer {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPServer{
		server: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           handler,
			ReadTimeout:       cfg.HTTPReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.HTTPWriteTimeout,
			IdleTimeout:       cfg.HTTPIdleTimeout,
		},
		shutdownTimeout: timeout,
		logger:          Component(logger, "http"),
	}
}

// OnStop registers fn to run once in-flight requests have drained, in
// registration order.
func (s *HTTPServer) OnStop(fn func()) {
	s.mu.Lock()
	s.onStop = append(s.onStop, fn)
	s.mu.Unlock()
}

// Run listens on the configured address and serves until ctx is done, then
// shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("http: listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or the server fails.
// Either way the shutdown sequence runs before it returns.
func (s *HTTPServer) Serve(ctx context.Context, ln net.Listener) error {
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("http: listening")
		serveErr <- s.server.Serve(ln)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if shutdownErr := s.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}

// Shutdown drains in-flight requests within ctx, then runs the OnStop hooks.
// The hooks run even when the drain times out.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("http: drain incomplete")
		err = fmt.Errorf("http: shutdown: %w", err)
	}

	s.mu.Lock()
	hooks := s.onStop
	s.onStop = nil
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	s.logger.Info().Msg("http: stopped")
	return err
}
