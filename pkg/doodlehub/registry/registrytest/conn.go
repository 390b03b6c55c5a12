// Package registrytest provides an in-memory registry.Conn for tests.
package registrytest

import (
	"errors"
	"sync"

	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
)

// ErrClosed is returned by Send on a closed Conn.
var ErrClosed = errors.New("connection closed")

// Conn records every frame sent to it.
type Conn struct {
	id string

	mu       sync.Mutex
	closed   bool
	sendErr  error
	received [][]byte
	notify   chan struct{}
}

// NewConn returns an open Conn with the given id.
func NewConn(id string) *Conn {
	return &Conn{
		id:     id,
		notify: make(chan struct{}, 1024),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}

	c.received = append(c.received, append([]byte(nil), data...))

	select {
	case c.notify <- struct{}{}:
	default:
	}

	return nil
}

func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close marks the connection closed; later sends fail.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// FailSends makes every later Send return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Received returns a copy of the raw frames received so far.
func (c *Conn) Received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([][]byte, len(c.received))
	copy(out, c.received)
	return out
}

// Messages decodes every frame received so far. Frames that fail to decode
// are skipped.
func (c *Conn) Messages() []protocol.Message {
	var out []protocol.Message
	for _, data := range c.Received() {
		msg, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// Types returns the type tag of every decoded frame received so far.
func (c *Conn) Types() []protocol.Type {
	var out []protocol.Type
	for _, msg := range c.Messages() {
		out = append(out, msg.Type())
	}
	return out
}

// Notify is signalled after every successful Send.
func (c *Conn) Notify() <-chan struct{} {
	return c.notify
}
