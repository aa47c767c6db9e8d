// Package app wires configuration, logging, metrics, the form session and
// its transports into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dalemusser/regform/config"
	"github.com/dalemusser/regform/form"
	"github.com/dalemusser/regform/httpapi"
	"github.com/dalemusser/regform/httputil"
	"github.com/dalemusser/regform/live"
	"github.com/dalemusser/regform/logging"
	"github.com/dalemusser/regform/metrics"
	"github.com/dalemusser/regform/router"
	"github.com/dalemusser/regform/server"
	"github.com/dalemusser/regform/sink"
	"github.com/dalemusser/regform/validate"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Name is used in logs.
const Name = "regform"

// App is a fully wired service, ready to serve.
type App struct {
	Config  *config.Config
	Session *form.Session
	Hub     *live.Hub
	Handler http.Handler

	logger  *zap.Logger
	closers []func() error
}

// Option configures New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	dialAMQP   func(sink.AMQPOptions) (*sink.AMQP, error)
}

// WithRegisterer registers the form collectors on reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithAMQPDialer replaces sink.DialAMQP.
func WithAMQPDialer(dial func(sink.AMQPOptions) (*sink.AMQP, error)) Option {
	return func(o *options) { o.dialAMQP = dial }
}

// New builds the message catalog, sinks, session, live hub and HTTP
// handler described by cfg. Call Close when done.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{
		registerer: prometheus.DefaultRegisterer,
		dialAMQP:   sink.DialAMQP,
	}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, logger: logger}

	messages, err := buildMessages(cfg, logger)
	if err != nil {
		return nil, err
	}

	var (
		sinks  sink.Multi
		checks []httpapi.Option
	)
	if cfg.UsesLog() {
		sinks = append(sinks, sink.NewLog(logger))
	}
	if cfg.UsesAMQP() {
		amqpSink, err := o.dialAMQP(sink.AMQPOptions{
			URL:            cfg.AMQP.URL,
			Exchange:       cfg.AMQP.Exchange,
			RoutingKey:     cfg.AMQP.RoutingKey,
			ConnectTimeout: cfg.AMQP.ConnectTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("connect submission broker: %w", err)
		}
		logger.Info("publishing submissions to AMQP",
			zap.String("exchange", cfg.AMQP.Exchange),
			zap.String("routing_key", cfg.AMQP.RoutingKey))
		sinks = append(sinks, amqpSink)
		a.closers = append(a.closers, amqpSink.Close)
		checks = append(checks, httpapi.WithHealthCheck("amqp", amqpSink.Check))
	}

	a.Session = form.NewSession(
		form.WithValidator(form.NewValidator(messages)),
		form.WithSink(sinks),
		form.WithObserver(metrics.NewFormObserver(o.registerer, logger)),
		form.WithLogger(logger.Named("form")),
		form.WithSuccessTTL(cfg.SuccessTTL),
		form.WithOverlap(cfg.SuccessOverlap),
	)
	a.closers = append(a.closers, func() error { a.Session.Close(); return nil })

	a.Hub = live.NewHub(a.Session, logger.Named("live"), live.Options{
		OriginPatterns: originPatterns(cfg.CORS),
	})

	r := router.New(cfg, logger)
	httpapi.New(a.Session, logger, append(checks,
		httpapi.WithLive(a.Hub),
		httpapi.WithMetrics(metrics.Handler()),
	)...).Mount(r, cfg.CORS)
	a.Handler = r

	return a, nil
}

func buildMessages(cfg *config.Config, logger *zap.Logger) (*validate.MessageProvider, error) {
	m := validate.DefaultMessages()
	if cfg.MessagesFile != "" {
		if err := m.LoadYAMLFile(cfg.MessagesFile); err != nil {
			return nil, err
		}
		logger.Info("loaded message catalog", zap.String("file", cfg.MessagesFile))
	}
	m.SetLocale(cfg.Locale)
	if m.Locale() != cfg.Locale {
		logger.Info("message locale matched",
			zap.String("requested", cfg.Locale),
			zap.String("using", m.Locale()))
	}
	return m, nil
}

// originPatterns turns CORS origins into host patterns for the WebSocket
// origin check.
func originPatterns(cors config.CORSConfig) []string {
	if !cors.EnableCORS {
		return nil
	}
	patterns := make([]string, 0, len(cors.AllowedOrigins))
	for _, o := range cors.AllowedOrigins {
		patterns = append(patterns, stripScheme(o))
	}
	return patterns
}

func stripScheme(origin string) string {
	for _, scheme := range []string{"https://", "http://"} {
		if host, ok := strings.CutPrefix(origin, scheme); ok {
			return host
		}
	}
	return origin
}

// Close disconnects live clients, stops the success timer and releases
// the broker connection.
func (a *App) Close() error {
	if a.Hub != nil {
		a.Hub.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Serve runs the HTTP server until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	return server.ListenAndServeWithContext(ctx, server.Options{
		Addr:            ":" + strconv.Itoa(a.Config.HTTPPort),
		ShutdownTimeout: a.Config.ShutdownTimeout,
		OnShutdown:      []func(){a.Hub.Close},
	}, a.Handler, a.logger)
}

// Run executes the startup sequence:
//
//  1. Bootstrap logger
//  2. Load config
//  3. Build the final logger
//  4. Register default metrics
//  5. Build the app (catalog, sinks, session, hub, routes)
//  6. Wire shutdown signals to a context
//  7. Serve until shutdown
func Run(ctx context.Context) error {
	bootstrap := logging.BootstrapLogger()
	defer bootstrap.Sync()
	bootstrap.Info("bootstrap logger initialized", zap.String("app", Name))

	cfg, err := config.Load(bootstrap)
	if err != nil {
		bootstrap.Error("config load failed", zap.Error(err))
		return err
	}
	bootstrap.Info("config loaded",
		zap.String("env", cfg.Env),
		zap.String("log_level", cfg.LogLevel))

	logger, err := logging.BuildLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		bootstrap.Error("logger build failed", zap.Error(err))
		return err
	}
	defer logger.Sync()
	logger.Debug("effective config", zap.String("config", cfg.Dump()))
	httputil.SetLogger(logger)

	metrics.RegisterDefault(logger)

	a, err := New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown cleanup failed", zap.Error(err))
		}
	}()

	ctx, cancel := server.WithShutdownSignals(ctx, logger)
	defer cancel()

	if err := a.Serve(ctx); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
