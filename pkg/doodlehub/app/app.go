// Package app assembles a running hub from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/tsarna/doodlehub/pkg/doodlehub/config"
	"github.com/tsarna/doodlehub/pkg/doodlehub/inference"
	"github.com/tsarna/doodlehub/pkg/doodlehub/o11y"
	"github.com/tsarna/doodlehub/pkg/doodlehub/otel"
	"github.com/tsarna/doodlehub/pkg/doodlehub/prom"
	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
	"github.com/tsarna/doodlehub/pkg/doodlehub/registry"
	"github.com/tsarna/doodlehub/pkg/doodlehub/relay"
	"github.com/tsarna/doodlehub/pkg/doodlehub/server"
	"go.uber.org/zap"
)

// Version is reported to the tracing backend.
var Version = "dev"

// App is a configured hub: the relay engine, its WebSocket listener and the
// HTTP server in front of them.
type App struct {
	config   *config.Config
	logger   *zap.Logger
	registry *registry.Registry
	engine   *relay.Engine
	listener *server.Listener
	handler  http.Handler
	server   *http.Server
	stats    *cron.Cron
	signals  *config.SignalActionHandler

	metricsHandler http.Handler

	mu       sync.Mutex
	addr     net.Addr
	serveErr chan error
}

// New builds every component described by cfg. Nothing is started until
// Start is called.
func New(cfg *config.Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		config:   cfg,
		logger:   logger,
		registry: registry.New(logger),
	}

	metricsProvider, tracingProvider := a.buildObservability()

	gateway, err := a.buildGateway()
	if err != nil {
		return nil, fmt.Errorf("failed to build inference gateway: %w", err)
	}

	a.engine, err = relay.NewEngine().
		WithRegistry(a.registry).
		WithGateway(gateway).
		WithLogger(logger).
		WithInferenceTimeout(cfg.Inference.Timeout).
		WithMetricsProvider(metricsProvider).
		WithTracingProvider(tracingProvider).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build relay engine: %w", err)
	}

	settings := cfg.Server
	a.listener, err = server.NewListenerConfig().
		WithEngine(a.engine).
		WithLogger(logger).
		WithQueueSize(settings.QueueSize).
		WithPingInterval(settings.PingInterval).
		WithWriteTimeout(settings.WriteTimeout).
		WithReadLimit(settings.ReadLimit).
		WithOriginPatterns(settings.AllowedOrigins...).
		WithMetricsProvider(metricsProvider).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build websocket listener: %w", err)
	}

	a.handler = a.routes()
	a.server = &http.Server{
		Addr:    settings.Listen,
		Handler: a.handler,
	}

	a.stats, err = cfg.BuildStatsCron(a.registry.Stats)
	if err != nil {
		return nil, err
	}

	a.signals = config.NewSignalActionHandler(logger, cfg.Signals, a.DispatchSignalAction)

	return a, nil
}

func (a *App) buildObservability() (o11y.MetricsProvider, o11y.TracingProvider) {
	settings := a.config.Metrics

	switch settings.Provider {
	case config.MetricsPrometheus:
		opts := []prom.Option{prom.WithNamespace(settings.Namespace)}
		if len(settings.ConstLabels) > 0 {
			opts = append(opts, prom.WithConstLabels(settings.ConstLabels))
		}
		if len(settings.Buckets) > 0 {
			opts = append(opts, prom.WithBuckets(settings.Buckets))
		}
		provider := prom.NewProvider(opts...)
		a.metricsHandler = provider.Handler()
		if settings.Tracing {
			return provider, otel.NewProvider(settings.ServiceName, Version)
		}
		return provider, nil

	case config.MetricsOtel:
		provider := otel.NewProvider(settings.ServiceName, Version)
		if settings.Tracing {
			return provider, provider
		}
		return provider, nil

	default:
		if settings.Tracing {
			return nil, otel.NewProvider(settings.ServiceName, Version)
		}
		return nil, nil
	}
}

func (a *App) buildGateway() (inference.Gateway, error) {
	settings := a.config.Inference

	switch settings.Backend {
	case config.BackendHTTP:
		builder := inference.NewHTTPGateway().
			WithURL(settings.URL).
			WithLogger(a.logger).
			WithResponseJq(settings.ResponseJq)
		for key, value := range settings.Headers {
			builder.WithHeader(key, value)
		}
		return builder.Build()

	default:
		placeholder, err := inference.NewPlaceholder(settings.Classes, settings.Seed)
		if err != nil {
			return nil, err
		}
		return placeholder.WithDelay(settings.Delay), nil
	}
}

// Handler returns the hub's HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Engine returns the relay engine.
func (a *App) Engine() *relay.Engine {
	return a.engine
}

// Registry returns the connection registry.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Addr returns the address the server is listening on, or nil before Start.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Start binds the listen address and serves in the background. Errors
// binding the address are returned; later serve errors are reported by
// Done.
func (a *App) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.server.Addr, err)
	}

	a.mu.Lock()
	a.addr = ln.Addr()
	a.serveErr = make(chan error, 1)
	a.mu.Unlock()

	if a.stats != nil {
		a.stats.Start()
	}
	a.signals.Start(ctx)

	a.logger.Info("Hub listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("ws_path", a.config.Server.WSPath),
		zap.String("inference_backend", a.config.Inference.Backend),
	)

	go func() {
		err := a.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		a.serveErr <- err
		close(a.serveErr)
	}()

	return nil
}

// Done returns a channel that receives the serve error, or nil, once the
// server stops. It is nil before Start.
func (a *App) Done() <-chan error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.serveErr
}

// Shutdown stops accepting work, tells in-flight submitters the hub is going
// away, closes every WebSocket and then stops the HTTP server.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down hub")

	a.signals.Stop()
	if a.stats != nil {
		<-a.stats.Stop().Done()
	}

	a.engine.Stop()

	var errs []error
	if err := a.listener.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("websocket shutdown: %w", err))
	}
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	return errors.Join(errs...)
}

// DispatchSignalAction performs an operator action against every tablet.
func (a *App) DispatchSignalAction(ctx context.Context, action config.SignalAction) {
	var msg protocol.Message
	switch action {
	case config.SignalReset:
		msg = protocol.ResetCanvas{}
	case config.SignalStart:
		msg = protocol.StartDrawing{}
	case config.SignalHome:
		msg = protocol.NavigateToHome{}
	default:
		a.logger.Error("Unknown signal action", zap.String("action", string(action)))
		return
	}

	delivered := a.engine.Announce(ctx, protocol.RoleTablet, msg)
	a.logger.Info("Operator action sent to tablets",
		zap.String("action", string(action)),
		zap.Int("delivered", delivered),
	)
}
