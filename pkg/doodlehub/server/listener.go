// Package server accepts kiosk WebSocket connections and feeds their frames
// to the relay engine.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tsarna/doodlehub/pkg/doodlehub/relay"
	"go.uber.org/zap"
)

// Listener handles incoming WebSocket connections and hands them to the
// relay engine. It tracks live connections for graceful shutdown.
type Listener struct {
	engine  *relay.Engine
	logger  *zap.Logger
	config  *ListenerConfig
	metrics *WebSocketMetrics

	// Connection tracking for graceful shutdown
	connections  map[*Connection]struct{}
	connMutex    sync.RWMutex
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// newListener creates a new WebSocket listener from the provided configuration.
// This is a private constructor - use NewListenerConfig().Build() instead.
func newListener(config *ListenerConfig) *Listener {
	return &Listener{
		engine:      config.engine,
		logger:      config.logger,
		config:      config,
		metrics:     NewWebSocketMetrics(config.metricsProvider),
		connections: make(map[*Connection]struct{}),
		shutdown:    make(chan struct{}),
	}
}

// ServeWebsocket upgrades the request to a WebSocket connection and serves
// it until it closes. It can be plugged directly into an HTTP router.
//
//	listener, _ := server.NewListenerConfig().WithEngine(engine).WithLogger(logger).Build()
//	router.Get("/ws", listener.ServeWebsocket)
func (l *Listener) ServeWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
		OriginPatterns:  l.config.originPatterns,
	})
	if err != nil {
		l.logger.Error("Failed to accept WebSocket connection",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)
		l.metrics.RecordConnectionError(r.Context(), "upgrade")
		return
	}

	select {
	case <-l.shutdown:
		l.logger.Debug("Rejecting new connection due to shutdown")
		l.metrics.RecordConnectionError(r.Context(), "shutdown")
		conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	default:
	}

	connection := newConnection(r.Context(), conn, l.config, l.metrics)

	l.connMutex.Lock()
	l.connections[connection] = struct{}{}
	connCount := len(l.connections)
	l.connMutex.Unlock()

	l.metrics.RecordConnectionStart(r.Context())
	l.metrics.RecordConnectionActive(r.Context(), connCount)

	l.logger.Debug("WebSocket connection established",
		zap.String("conn_id", connection.ID()),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
		zap.Int("active_connections", connCount),
	)

	start := time.Now()
	connection.Start()

	l.connMutex.Lock()
	delete(l.connections, connection)
	connCount = len(l.connections)
	l.connMutex.Unlock()

	l.metrics.RecordConnectionEnd(context.Background(), time.Since(start))
	l.metrics.RecordConnectionActive(context.Background(), connCount)

	l.logger.Debug("WebSocket connection removed from tracking",
		zap.String("conn_id", connection.ID()),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("active_connections", connCount),
	)
}

// Shutdown stops accepting new connections, closes all active ones with
// StatusGoingAway and waits for them to finish cleanup. It blocks until
// every connection is gone or ctx is done.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() {
		l.logger.Info("Starting graceful WebSocket shutdown")

		close(l.shutdown)

		l.connMutex.RLock()
		connections := make([]*Connection, 0, len(l.connections))
		for conn := range l.connections {
			connections = append(connections, conn)
		}
		l.connMutex.RUnlock()

		if len(connections) == 0 {
			l.logger.Info("No active connections to close")
			return
		}

		l.logger.Info("Closing active WebSocket connections",
			zap.Int("connection_count", len(connections)),
		)

		for _, conn := range connections {
			go conn.shutdownClose(websocket.StatusGoingAway, "Server shutting down")
		}
	})

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		remaining := l.ConnectionCount()
		if remaining == 0 {
			l.logger.Info("All WebSocket connections closed successfully")
			return nil
		}

		select {
		case <-ctx.Done():
			l.logger.Warn("Shutdown timeout reached with active connections",
				zap.Int("remaining_connections", remaining),
			)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ConnectionCount returns the current number of active WebSocket connections.
func (l *Listener) ConnectionCount() int {
	l.connMutex.RLock()
	defer l.connMutex.RUnlock()
	return len(l.connections)
}
