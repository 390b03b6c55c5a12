package client

import (
	"fmt"
	"time"

	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
	"go.uber.org/zap"
)

const (
	// DefaultReconnectDelay is the fixed wait between a lost connection and
	// the next attempt.
	DefaultReconnectDelay = 3 * time.Second

	// DefaultDialTimeout bounds a single connection attempt.
	DefaultDialTimeout = 10 * time.Second

	// DefaultReadLimit is the largest frame accepted from the hub. Prediction
	// results carry the submitted display image.
	DefaultReadLimit = 1 << 20

	defaultWriteChannelSize = 16
)

// ControllerBuilder provides a fluent interface for building a Controller.
type ControllerBuilder struct {
	url            string
	pageOrigin     string
	role           protocol.Role
	handlers       Handlers
	logger         *zap.Logger
	reconnectDelay time.Duration
	dialTimeout    time.Duration
	headers        map[string][]string
}

// NewController creates a new controller builder.
//
//	ctrl, err := client.NewController().
//	    WithPageOrigin("https://kiosk.local").
//	    WithRole(protocol.RoleDesktop).
//	    WithHandlers(client.Handlers{OnPredictionResult: show}).
//	    Build()
func NewController() *ControllerBuilder {
	return &ControllerBuilder{
		logger:         zap.NewNop(),
		reconnectDelay: DefaultReconnectDelay,
		dialTimeout:    DefaultDialTimeout,
	}
}

// WithURL sets an explicit hub URL. It takes precedence over the page origin.
func (b *ControllerBuilder) WithURL(url string) *ControllerBuilder {
	b.url = url
	return b
}

// WithPageOrigin sets the origin the hub URL is derived from when no
// explicit URL is given.
func (b *ControllerBuilder) WithPageOrigin(origin string) *ControllerBuilder {
	b.pageOrigin = origin
	return b
}

// WithRole sets the role announced on every connection.
func (b *ControllerBuilder) WithRole(role protocol.Role) *ControllerBuilder {
	b.role = role
	return b
}

// WithHandlers sets the callbacks for connection and inbound events.
func (b *ControllerBuilder) WithHandlers(handlers Handlers) *ControllerBuilder {
	b.handlers = handlers
	return b
}

// WithLogger sets the logger for the controller.
func (b *ControllerBuilder) WithLogger(logger *zap.Logger) *ControllerBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithReconnectDelay sets the wait before reconnecting.
//
// Default: 3 seconds
func (b *ControllerBuilder) WithReconnectDelay(delay time.Duration) *ControllerBuilder {
	if delay > 0 {
		b.reconnectDelay = delay
	}
	return b
}

// WithDialTimeout sets the timeout for a single connection attempt.
func (b *ControllerBuilder) WithDialTimeout(timeout time.Duration) *ControllerBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithHeader sets an HTTP header sent with the WebSocket handshake.
func (b *ControllerBuilder) WithHeader(key, value string) *ControllerBuilder {
	if b.headers == nil {
		b.headers = make(map[string][]string)
	}
	b.headers[key] = []string{value}
	return b
}

// IsValid checks that all required configuration is present.
func (b *ControllerBuilder) IsValid() error {
	if _, err := protocol.ParseRole(string(b.role)); err != nil {
		return fmt.Errorf("role is required: %w", err)
	}

	if _, err := ResolveEndpoint(b.url, b.pageOrigin); err != nil {
		return err
	}

	return nil
}

// Build creates the controller. It does not connect until Start is called.
func (b *ControllerBuilder) Build() (*Controller, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	endpoint, _ := ResolveEndpoint(b.url, b.pageOrigin)

	return &Controller{
		url:            endpoint,
		role:           b.role,
		handlers:       b.handlers,
		logger:         b.logger.With(zap.String("role", string(b.role))),
		reconnectDelay: b.reconnectDelay,
		dialTimeout:    b.dialTimeout,
		headers:        b.headers,
	}, nil
}
