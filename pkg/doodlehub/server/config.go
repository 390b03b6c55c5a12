package server

import (
	"fmt"
	"time"

	"github.com/tsarna/doodlehub/pkg/doodlehub/o11y"
	"github.com/tsarna/doodlehub/pkg/doodlehub/relay"
	"go.uber.org/zap"
)

// ListenerConfig holds the configuration for creating a WebSocket Listener.
// Use NewListenerConfig() to create a new configuration and chain methods
// to set the required parameters before calling Build().
type ListenerConfig struct {
	engine          *relay.Engine
	logger          *zap.Logger
	queueSize       int
	pingInterval    time.Duration
	writeTimeout    time.Duration
	readLimit       int64
	originPatterns  []string
	metricsProvider o11y.MetricsProvider
}

const (
	// DefaultQueueSize is the default size of each connection's outbound
	// queue. Frames sent to a connection whose queue is full are dropped.
	DefaultQueueSize = 256

	// DefaultPingInterval is the default interval for sending WebSocket ping
	// frames. A ping that is not answered within the write timeout closes the
	// connection.
	DefaultPingInterval = 30 * time.Second

	// DefaultWriteTimeout is the default timeout for writing a frame or a
	// ping to a client.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultReadLimit is the largest inbound frame accepted. It fits a
	// 784 value model vector plus a base64 PNG snapshot of a densely drawn
	// 280x280 canvas. Larger frames close the connection with
	// StatusMessageTooBig.
	DefaultReadLimit = 1 << 20
)

// NewListenerConfig creates a new ListenerConfig for building a WebSocket Listener.
//
// Example:
//
//	listener, err := server.NewListenerConfig().
//	    WithEngine(engine).
//	    WithLogger(logger).
//	    WithQueueSize(512).
//	    WithPingInterval(45 * time.Second).
//	    Build()
func NewListenerConfig() *ListenerConfig {
	return &ListenerConfig{
		queueSize:    DefaultQueueSize,
		pingInterval: DefaultPingInterval,
		writeTimeout: DefaultWriteTimeout,
		readLimit:    DefaultReadLimit,
	}
}

// WithEngine sets the relay engine that inbound frames are handed to.
func (c *ListenerConfig) WithEngine(engine *relay.Engine) *ListenerConfig {
	c.engine = engine
	return c
}

// WithLogger sets the Logger for the WebSocket Listener.
func (c *ListenerConfig) WithLogger(logger *zap.Logger) *ListenerConfig {
	c.logger = logger
	return c
}

// WithQueueSize sets how many outbound frames can be buffered per
// connection. Must be positive.
//
// Default: 256 frames per connection
func (c *ListenerConfig) WithQueueSize(size int) *ListenerConfig {
	if size > 0 {
		c.queueSize = size
	}
	return c
}

// WithPingInterval sets the interval for sending WebSocket ping frames.
// Set to 0 to disable ping/pong health monitoring.
//
// Default: 30 seconds
func (c *ListenerConfig) WithPingInterval(interval time.Duration) *ListenerConfig {
	if interval >= 0 {
		c.pingInterval = interval
	}
	return c
}

// WithWriteTimeout sets the timeout for writing to a client.
//
// Default: 10 seconds
func (c *ListenerConfig) WithWriteTimeout(timeout time.Duration) *ListenerConfig {
	if timeout > 0 {
		c.writeTimeout = timeout
	}
	return c
}

// WithReadLimit sets the largest inbound frame in bytes.
//
// Default: 1 MiB
func (c *ListenerConfig) WithReadLimit(limit int64) *ListenerConfig {
	if limit > 0 {
		c.readLimit = limit
	}
	return c
}

// WithOriginPatterns allows cross-origin upgrades from hosts matching the
// given patterns. By default only same-origin upgrades are accepted.
func (c *ListenerConfig) WithOriginPatterns(patterns ...string) *ListenerConfig {
	c.originPatterns = append([]string(nil), patterns...)
	return c
}

// WithMetricsProvider enables WebSocket metrics.
func (c *ListenerConfig) WithMetricsProvider(provider o11y.MetricsProvider) *ListenerConfig {
	c.metricsProvider = provider
	return c
}

// IsValid checks if the configuration has all required parameters set.
// Returns nil if the configuration is valid, or an error describing what's missing.
func (c *ListenerConfig) IsValid() error {
	var missing []string
	if c.engine == nil {
		missing = append(missing, "Engine")
	}
	if c.logger == nil {
		missing = append(missing, "Logger")
	}

	if len(missing) > 0 {
		return fmt.Errorf("invalid listener configuration, missing: %v", missing)
	}

	return nil
}

// Build creates a new WebSocket Listener from the configuration.
func (c *ListenerConfig) Build() (*Listener, error) {
	if err := c.IsValid(); err != nil {
		return nil, err
	}

	return newListener(c), nil
}
