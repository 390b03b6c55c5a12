package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tsarna/doodlehub/pkg/doodlehub/relay"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Send when the connection's outbound queue
	// has no room. The frame is dropped for this connection only.
	ErrQueueFull = errors.New("outbound queue full")

	// ErrClosed is returned by Send after the connection has closed.
	ErrClosed = errors.New("connection closed")
)

// Connection is one kiosk client. Inbound frames are handed to the relay
// engine in arrival order on the reader goroutine; outbound frames are
// queued and written by a single sender goroutine.
type Connection struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	conn    *websocket.Conn
	engine  *relay.Engine
	logger  *zap.Logger
	config  *ListenerConfig
	metrics *WebSocketMetrics

	outbound chan []byte
	done     chan struct{}
	open     atomic.Bool

	cleanupOnce sync.Once
}

func newConnection(ctx context.Context, conn *websocket.Conn, config *ListenerConfig, metrics *WebSocketMetrics) *Connection {
	ctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()

	c := &Connection{
		id:       id,
		ctx:      ctx,
		cancel:   cancel,
		conn:     conn,
		engine:   config.engine,
		logger:   config.logger.With(zap.String("conn_id", id)),
		config:   config,
		metrics:  metrics,
		outbound: make(chan []byte, config.queueSize),
		done:     make(chan struct{}),
	}
	c.open.Store(true)

	return c
}

func (c *Connection) ID() string {
	return c.id
}

// IsOpen reports whether the connection can still accept frames.
func (c *Connection) IsOpen() bool {
	return c.open.Load()
}

// Send queues data for delivery without blocking.
func (c *Connection) Send(data []byte) error {
	if !c.open.Load() {
		return ErrClosed
	}

	select {
	case c.outbound <- data:
		return nil
	default:
		c.logger.Warn("Outbound queue full, dropping frame",
			zap.Int("queue_size", c.config.queueSize),
		)
		c.metrics.RecordMessageError(c.ctx, "queue_full")
		return ErrQueueFull
	}
}

// Start serves the connection until it closes. The reader runs in the
// calling goroutine.
func (c *Connection) Start() {
	c.logger.Debug("Starting WebSocket connection handler")

	go c.messageSender()

	c.messageReader()

	c.logger.Debug("WebSocket connection handler stopping")
	c.cleanup()
}

// messageSender serializes every write to the socket, including pings.
func (c *Connection) messageSender() {
	defer c.logger.Debug("Message sender goroutine stopped")

	var pingChan <-chan time.Time
	if c.config.pingInterval > 0 {
		pingTicker := time.NewTicker(c.config.pingInterval)
		defer pingTicker.Stop()
		pingChan = pingTicker.C
	}

	for {
		select {
		case data := <-c.outbound:
			writeCtx, cancel := context.WithTimeout(c.ctx, c.config.writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					c.metrics.RecordWriteTimeout(c.ctx)
				}
				c.metrics.RecordMessageError(c.ctx, "write")
				c.logger.Error("Failed to send WebSocket message", zap.Error(err))
				c.close()
				return
			}
			c.metrics.RecordMessageSent(c.ctx, len(data))

		case <-pingChan:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.config.writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()

			c.metrics.RecordPingSent(c.ctx)
			if err != nil {
				c.metrics.RecordPongTimeout(c.ctx)
				c.logger.Warn("Ping failed, closing connection", zap.Error(err))
				c.close()
				return
			}

		case <-c.done:
			return

		case <-c.ctx.Done():
			return
		}
	}
}

// messageReader blocks until the connection closes. There is no read
// deadline: kiosk desktops may stay silent for hours, and liveness is
// covered by pings.
func (c *Connection) messageReader() {
	defer c.logger.Debug("Message reader stopped")

	c.conn.SetReadLimit(c.config.readLimit)

	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				c.logger.Debug("WebSocket connection closed by client",
					zap.Int("close_status", int(status)),
				)
			} else if c.ctx.Err() == nil {
				c.logger.Info("WebSocket read failed", zap.Error(err))
			}
			return
		}

		if typ != websocket.MessageText {
			c.logger.Debug("Ignoring binary frame", zap.Int("data_length", len(data)))
			c.metrics.RecordMessageError(c.ctx, "binary")
			continue
		}

		if len(data) == 0 {
			continue
		}

		c.metrics.RecordMessageReceived(c.ctx, len(data))
		c.engine.Handle(c.ctx, c, data)
	}
}

// close stops accepting frames and unblocks the reader.
func (c *Connection) close() {
	c.open.Store(false)
	c.cancel()
}

// cleanup runs once when the connection finishes.
func (c *Connection) cleanup() {
	c.cleanupOnce.Do(func() {
		c.logger.Debug("Cleaning up WebSocket connection")

		c.open.Store(false)
		close(c.done)

		c.engine.Disconnect(c)

		err := c.conn.Close(websocket.StatusNormalClosure, "Connection closed")
		if err != nil {
			// Expected if the connection was already closed, e.g. by shutdownClose.
			c.logger.Debug("WebSocket close error (may be expected)", zap.Error(err))
		}

		c.cancel()
	})
}

// shutdownClose closes the WebSocket with a specific code and reason. The
// reader then exits and cleanup runs through the normal Start path.
func (c *Connection) shutdownClose(code websocket.StatusCode, reason string) {
	c.logger.Debug("Closing connection for shutdown",
		zap.Int("close_code", int(code)),
		zap.String("reason", reason),
	)

	c.open.Store(false)

	err := c.conn.Close(code, reason)
	if err != nil {
		c.logger.Debug("Error closing WebSocket during shutdown", zap.Error(err))
	}
}
