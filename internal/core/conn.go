package core

import (
	"context"
	"sync"
)

// Conn is one live client connection as seen by the core layer.
// The transport drains Outbound and writes each frame to the socket.
type Conn struct {
	ID string

	out  chan []byte
	done chan struct{}
	kick chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	kickOnce  sync.Once
}

// NewConn constructs a connection with an outbound queue of buffer frames.
func NewConn(id string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 1
	}
	return &Conn{
		ID:   id,
		out:  make(chan []byte, buffer),
		done: make(chan struct{}),
		kick: make(chan struct{}),
	}
}

// Deliver queues a fan-out frame without blocking.
// Returns false if the connection is closed or its queue is full.
func (c *Conn) Deliver(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.out <- frame:
		return true
	default:
		// Drop if slow consumer.
		return false
	}
}

// Reply queues a direct response to this connection, waiting for room in
// the queue until the connection closes or ctx is done.
func (c *Conn) Reply(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outbound is the queue the transport writer drains.
func (c *Conn) Outbound() <-chan []byte {
	return c.out
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Kick asks the transport to flush queued frames and then close the socket.
func (c *Conn) Kick() {
	c.kickOnce.Do(func() { close(c.kick) })
}

// Kicked is closed once Kick has been called.
func (c *Conn) Kicked() <-chan struct{} {
	return c.kick
}

// Close marks the connection closed. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
