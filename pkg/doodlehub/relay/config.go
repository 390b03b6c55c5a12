package relay

import (
	"errors"
	"time"

	"github.com/tsarna/doodlehub/pkg/doodlehub/inference"
	"github.com/tsarna/doodlehub/pkg/doodlehub/o11y"
	"github.com/tsarna/doodlehub/pkg/doodlehub/registry"
	"go.uber.org/zap"
)

// EngineConfig holds the configuration for creating an Engine.
// Use NewEngine() and chain methods before calling Build().
type EngineConfig struct {
	registry         *registry.Registry
	gateway          inference.Gateway
	logger           *zap.Logger
	inferenceTimeout time.Duration
	metricsProvider  o11y.MetricsProvider
	tracingProvider  o11y.TracingProvider
}

// NewEngine creates a new EngineConfig.
//
// Example:
//
//	engine, err := relay.NewEngine().
//	    WithRegistry(registry.New(logger)).
//	    WithGateway(gateway).
//	    WithLogger(logger).
//	    WithInferenceTimeout(20 * time.Second).
//	    Build()
func NewEngine() *EngineConfig {
	return &EngineConfig{
		inferenceTimeout: inference.DefaultTimeout,
	}
}

// WithRegistry sets the connection registry. Required.
func (c *EngineConfig) WithRegistry(r *registry.Registry) *EngineConfig {
	c.registry = r
	return c
}

// WithGateway sets the classifier. Required.
func (c *EngineConfig) WithGateway(g inference.Gateway) *EngineConfig {
	c.gateway = g
	return c
}

// WithLogger sets the logger.
func (c *EngineConfig) WithLogger(logger *zap.Logger) *EngineConfig {
	c.logger = logger
	return c
}

// WithInferenceTimeout bounds every classification.
//
// Default: 15 seconds
func (c *EngineConfig) WithInferenceTimeout(timeout time.Duration) *EngineConfig {
	if timeout > 0 {
		c.inferenceTimeout = timeout
	}
	return c
}

// WithMetricsProvider enables relay metrics.
func (c *EngineConfig) WithMetricsProvider(provider o11y.MetricsProvider) *EngineConfig {
	c.metricsProvider = provider
	return c
}

// WithTracingProvider enables a span around every classification.
func (c *EngineConfig) WithTracingProvider(provider o11y.TracingProvider) *EngineConfig {
	c.tracingProvider = provider
	return c
}

// IsValid checks that all required configuration is present.
func (c *EngineConfig) IsValid() error {
	if c.registry == nil {
		return errors.New("registry is required")
	}
	if c.gateway == nil {
		return errors.New("inference gateway is required")
	}
	return nil
}

// Build validates the configuration and creates the Engine.
func (c *EngineConfig) Build() (*Engine, error) {
	if err := c.IsValid(); err != nil {
		return nil, err
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	return newEngine(c), nil
}
