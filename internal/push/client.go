package push

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is the write side of the transport a session emits frames to. It is
// the minimal surface of *websocket.Conn the session needs, kept narrow so
// tests can substitute a recorder.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// client serializes all writes to one connection. Frames are handed over
// through a buffered channel and written by a dedicated goroutine, so
// producers never block on network I/O; a full channel drops the frame.
type client struct {
	conn Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(conn Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

// trySend enqueues data for writing. Returns false if the client is closed
// or the send buffer is full; the frame is dropped either way.
func (c *client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close stops the write pump after the already queued frames are written.
// Safe to call more than once.
func (c *client) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			// A dead transport is not an error for producers; the read
			// loop notices the disconnect and closes the session.
			log.Printf("push: write failed, discarding frames: %v", err)
			return
		}
	}
}
