package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"coderoom/internal/metrics"
	"coderoom/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 20

	DefaultSendBuffer = 256
)

// Client is one authenticated websocket connection. All writes go through
// the buffered send queue drained by WritePump.
type Client struct {
	ID   string
	User models.UserIdentity
	Conn *websocket.Conn

	send chan models.WSFrame

	mu     sync.Mutex
	hook   func(models.WSFrame)
	closed bool
}

func NewClient(conn *websocket.Conn, user models.UserIdentity, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{
		ID:   uuid.NewString(),
		User: user,
		Conn: conn,
		send: make(chan models.WSFrame, buffer),
	}
}

// SetSendHook replaces the default WebSocket sender (used in tests).
func (c *Client) SetSendHook(fn func(models.WSFrame)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// Send queues a frame without blocking. It reports false when the frame was
// dropped because the queue is full or the client is closed.
func (c *Client) Send(frame models.WSFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hook != nil {
		c.hook(frame)
		return true
	}
	if c.closed {
		metrics.FramesDropped.Inc()
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		metrics.FramesDropped.Inc()
		return false
	}
}

// Close stops the write pump after the queued frames are flushed. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// PrepareRead applies the read limit and keeps the read deadline moving on pongs.
func (c *Client) PrepareRead() {
	if c.Conn == nil {
		return
	}
	c.Conn.SetReadLimit(maxMsgSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// WritePump drains the send queue to the socket and pings the peer until the
// queue is closed or a write fails.
func (c *Client) WritePump() {
	if c.Conn == nil {
		return
	}
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
