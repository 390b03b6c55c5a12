// Package client keeps one kiosk device connected to the hub, reconnecting
// after a fixed delay whenever the connection is lost.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
	"go.uber.org/zap"
)

// TimestampLayout formats the submission timestamp: ISO 8601 in UTC with
// millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// GenericErrorMessage is passed to OnError when the hub sends an error frame
// without a usable message.
const GenericErrorMessage = "An error occurred"

// Handlers are the callbacks a device UI registers. Every field is optional;
// events without a handler are dropped.
type Handlers struct {
	OnConnected        func()
	OnDisconnected     func()
	OnPredictionResult func(protocol.PredictionResult)
	OnResetCanvas      func()
	OnError            func(message string)
	OnStartDrawing     func()
	OnNavigateToHome   func()
}

// Destination is where a desktop can ask the tablets to go.
type Destination int

const (
	DestinationDoodle Destination = iota
	DestinationDigit
	DestinationHome
)

func (d Destination) message() (protocol.Message, error) {
	switch d {
	case DestinationDoodle:
		return protocol.NavigateToDoodle{}, nil
	case DestinationDigit:
		return protocol.NavigateToDigit{}, nil
	case DestinationHome:
		return protocol.NavigateToHome{}, nil
	default:
		return nil, fmt.Errorf("unknown destination %d", d)
	}
}

// Controller owns at most one live connection to the hub. Callbacks run on
// the connection's reader goroutine, one at a time.
type Controller struct {
	// Configuration
	url            string
	role           protocol.Role
	handlers       Handlers
	logger         *zap.Logger
	reconnectDelay time.Duration
	dialTimeout    time.Duration
	headers        map[string][]string

	ctx    context.Context
	cancel context.CancelFunc

	// callbackMu is held while a callback runs so Close can wait it out.
	callbackMu sync.Mutex

	mu      sync.Mutex
	started bool
	closed  bool
	current *session
	timer   *time.Timer
}

// session is one transport connection. Outbound frames never carry over to
// the next session.
type session struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	writes chan []byte
	open   bool
}

// Start begins connecting in the background. Cancelling ctx is equivalent
// to calling Close.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("controller is already started")
	}
	if c.closed {
		c.mu.Unlock()
		return errors.New("controller is closed")
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go func() {
		<-c.ctx.Done()
		c.Close()
	}()

	go c.connect()

	return nil
}

// Close cancels any pending reconnect and closes the live connection. No
// callback starts after Close returns, and Close waits for one already
// running. Callbacks must not call Close; cancel the Start context instead.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	s := c.current
	c.current = nil
	if s != nil {
		s.open = false
	}
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if s != nil {
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "client closing")
	}

	c.callbackMu.Lock()
	c.callbackMu.Unlock()

	c.logger.Info("Hub controller closed")
}

// Connected reports whether a connection is currently open.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.open
}

// Reconnecting reports whether a reconnect attempt is scheduled.
func (c *Controller) Reconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// SubmitDrawing sends a drawing for classification, stamped with the
// current time. It reports whether the frame was queued.
func (c *Controller) SubmitDrawing(drawing protocol.DrawingPayload) bool {
	return c.send(protocol.DrawingSubmitted{
		Drawing:   drawing,
		Timestamp: time.Now().UTC().Format(TimestampLayout),
	})
}

// SendReset asks the hub to reset every tablet's canvas.
func (c *Controller) SendReset() bool {
	return c.send(protocol.Reset{})
}

// SendNavigate tells the hub which screen the desktop moved to.
func (c *Controller) SendNavigate(to Destination) bool {
	msg, err := to.message()
	if err != nil {
		c.logger.Warn("Not sending navigation", zap.Error(err))
		return false
	}
	return c.send(msg)
}

// send drops msg unless a connection is open. Frames are never queued for a
// later connection.
func (c *Controller) send(msg protocol.Message) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		c.logger.Error("Failed to encode message", zap.String("type", string(msg.Type())), zap.Error(err))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.current
	if s == nil || !s.open {
		c.logger.Debug("Not connected, dropping message", zap.String("type", string(msg.Type())))
		return false
	}

	select {
	case s.writes <- data:
		return true
	default:
		c.logger.Warn("Write channel full, dropping message", zap.String("type", string(msg.Type())))
		return false
	}
}

func (c *Controller) connect() {
	if c.isClosed() {
		return
	}

	c.logger.Debug("Connecting to hub", zap.String("url", c.url))

	dialCtx, dialCancel := context.WithTimeout(c.ctx, c.dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{HTTPHeader: c.headers})
	dialCancel()

	if err != nil {
		if c.isClosed() {
			return
		}
		c.logger.Warn("Failed to connect to hub",
			zap.String("url", c.url),
			zap.Error(err),
		)
		c.scheduleReconnect()
		return
	}

	conn.SetReadLimit(DefaultReadLimit)

	ctx, cancel := context.WithCancel(c.ctx)
	s := &session{
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		writes: make(chan []byte, defaultWriteChannelSize),
		open:   true,
	}

	// The role announcement is the first frame of every session.
	s.writes <- protocol.MustEncode(protocol.Connected{Mode: c.role})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "client closing")
		return
	}
	c.current = s
	c.mu.Unlock()

	c.logger.Info("Connected to hub", zap.String("url", c.url))

	go c.writeLoop(s)

	c.fire(func() {
		if c.handlers.OnConnected != nil {
			c.handlers.OnConnected()
		}
	})

	c.readLoop(s)
}

func (c *Controller) writeLoop(s *session) {
	for {
		select {
		case data := <-s.writes:
			if err := s.conn.Write(s.ctx, websocket.MessageText, data); err != nil {
				if s.ctx.Err() == nil {
					c.logger.Warn("Failed to write to hub", zap.Error(err))
				}
				s.conn.CloseNow()
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (c *Controller) readLoop(s *session) {
	defer c.handleClose(s)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				c.logger.Info("Hub closed the connection", zap.Int("close_status", int(status)))
			} else if s.ctx.Err() == nil {
				c.logger.Warn("Lost connection to hub", zap.Error(err))
			}
			return
		}

		c.dispatch(data)
	}
}

// dispatch decodes one frame and invokes the matching handler. It never
// lets a bad frame or a panicking handler take down the reader.
func (c *Controller) dispatch(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Recovered from panic in message handler", zap.Any("panic", r))
		}
	}()

	msg, err := protocol.Decode(data)
	if err != nil {
		var payloadErr *protocol.PayloadError
		if errors.As(err, &payloadErr) && payloadErr.Type == protocol.TypeError {
			c.fire(func() {
				if c.handlers.OnError != nil {
					c.handlers.OnError(GenericErrorMessage)
				}
			})
			return
		}

		c.logger.Warn("Dropping unparseable message from hub",
			zap.Error(err),
			zap.Int("data_length", len(data)),
		)
		return
	}

	h := c.handlers
	c.fire(func() {
		switch m := msg.(type) {
		case protocol.PredictionResult:
			if h.OnPredictionResult != nil {
				h.OnPredictionResult(m)
			}
		case protocol.ResetCanvas:
			if h.OnResetCanvas != nil {
				h.OnResetCanvas()
			}
		case protocol.Error:
			if h.OnError != nil {
				message := m.Message
				if message == "" {
					message = GenericErrorMessage
				}
				h.OnError(message)
			}
		case protocol.StartDrawing:
			if h.OnStartDrawing != nil {
				h.OnStartDrawing()
			}
		case protocol.NavigateToHome:
			if h.OnNavigateToHome != nil {
				h.OnNavigateToHome()
			}
		default:
			c.logger.Debug("Ignoring message", zap.String("type", string(msg.Type())))
		}
	})
}

func (c *Controller) handleClose(s *session) {
	s.cancel()
	s.conn.CloseNow()

	c.mu.Lock()
	wasOpen := s.open
	s.open = false
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()

	if c.isClosed() {
		return
	}

	if wasOpen {
		c.fire(func() {
			if c.handlers.OnDisconnected != nil {
				c.handlers.OnDisconnected()
			}
		})
	}

	c.scheduleReconnect()
}

// scheduleReconnect arms the reconnect timer unless one is already pending.
func (c *Controller) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.timer != nil {
		return
	}

	c.logger.Info("Reconnecting to hub", zap.Duration("delay", c.reconnectDelay))

	c.timer = time.AfterFunc(c.reconnectDelay, func() {
		c.mu.Lock()
		c.timer = nil
		closed := c.closed
		c.mu.Unlock()

		if !closed {
			c.connect()
		}
	})
}

// fire runs a callback unless the controller has been closed.
func (c *Controller) fire(callback func()) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()

	if c.isClosed() {
		return
	}
	callback()
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
