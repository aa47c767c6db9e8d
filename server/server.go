// Package server runs the HTTP server and ties its lifetime to a context.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the HTTP server.
type Options struct {
	// Addr to listen on, e.g. ":8080".
	Addr string

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration

	// ReadHeaderTimeout and IdleTimeout are passed to http.Server.
	// Defaults: 10s and 120s. Read and write timeouts stay unset so
	// WebSocket connections are not cut.
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	// OnShutdown runs when shutdown starts. Use it to close hijacked
	// connections such as WebSockets, which Shutdown does not track.
	OnShutdown []func()
}

func (o *Options) setDefaults() {
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
	if o.ReadHeaderTimeout <= 0 {
		o.ReadHeaderTimeout = 10 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 120 * time.Second
	}
}

// WithShutdownSignals returns a context canceled on SIGINT or SIGTERM. The
// returned cancel func also stops signal delivery.
func WithShutdownSignals(parent context.Context, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			if logger != nil {
				logger.Info("shutdown signal received", zap.Any("signal", sig))
			}
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// ListenAndServeWithContext listens on opts.Addr and serves handler until
// ctx is canceled or the server fails.
func ListenAndServeWithContext(ctx context.Context, opts Options, handler http.Handler, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", opts.Addr, err)
	}
	return Serve(ctx, ln, opts, handler, logger)
}

// Serve serves handler on ln until ctx is canceled, then shuts down
// gracefully. It returns nil after a clean shutdown. ln is closed on return.
func Serve(ctx context.Context, ln net.Listener, opts Options, handler http.Handler, logger *zap.Logger) error {
	if handler == nil {
		_ = ln.Close()
		return errors.New("server: handler is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.setDefaults()

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		IdleTimeout:       opts.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	if stdlog, err := zap.NewStdLogAt(logger, zapcore.WarnLevel); err == nil {
		srv.ErrorLog = stdlog
	}
	for _, f := range opts.OnShutdown {
		srv.RegisterOnShutdown(f)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		logger.Info("shutting down server…")
		// ctx is already canceled; the shutdown window is independent of it.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("server stopped gracefully")
		return nil

	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	}
}
