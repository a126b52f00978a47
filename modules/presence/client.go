package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

var (
	// ErrClientClosed is returned when pushing to a closed client.
	ErrClientClosed = errors.New("client closed")
	// ErrSendBufferFull is returned when a client's outbound queue is full.
	ErrSendBufferFull = errors.New("client send buffer full")
)

// Conn is the part of a WebSocket connection a Client writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one live connection. Frames are queued by Send and written by a
// single WritePump goroutine, so a slow socket never blocks the sender.
type Client struct {
	ID string

	conn         Conn
	send         chan []byte
	done         chan struct{}
	stopped      chan struct{}
	pingInterval time.Duration

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewClient creates a client with an outbound queue of bufferSize frames.
// A zero pingInterval disables keepalive pings.
func NewClient(id string, conn Conn, bufferSize int, pingInterval time.Duration) *Client {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Client{
		ID:           id,
		conn:         conn,
		send:         make(chan []byte, bufferSize),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		pingInterval: pingInterval,
	}
}

// Send encodes frame as JSON and queues it.
func (c *Client) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return c.SendRaw(data)
}

// SendRaw queues an encoded text frame without blocking.
func (c *Client) SendRaw(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the client. Queued frames are flushed before the socket is closed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until WritePump has returned.
func (c *Client) Wait() {
	<-c.stopped
}

// WritePump writes queued frames and keepalive pings until the client is
// closed or a write fails. It closes the underlying connection on return.
func (c *Client) WritePump() {
	defer close(c.stopped)
	defer func() { _ = c.conn.Close() }()

	var tick <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case data := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("[presence] Write to client %s failed: %v", c.ID, err)
				c.Close()
				return
			}
		case <-tick:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
