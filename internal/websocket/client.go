package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tickchat/internal/models"
	"github.com/tickchat/internal/service"
)

const (
	defaultSendBuffer = 256
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second

	// a rune outside the BMP escapes to a \uXXXX\uXXXX pair in JSON
	maxEncodedRuneBytes = 12
	frameOverhead       = 4096
)

// FrameLimit is the smallest read limit that still fits a send_message frame
// whose body has maxBodyLength characters, however the client encodes them.
// Frames over the limit make gorilla close the socket, so the limit must
// never be tighter than the body check.
func FrameLimit(maxBodyLength int) int64 {
	if maxBodyLength <= 0 {
		maxBodyLength = service.DefaultMaxBodyLength
	}
	return int64(maxBodyLength)*maxEncodedRuneBytes + frameOverhead
}

type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteJSON(v any) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type ClientOptions struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

func (o *ClientOptions) withDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = FrameLimit(service.DefaultMaxBodyLength)
	}
}

// Client owns one socket. Every event for the connection goes through its
// send queue, so the socket sees events in enqueue order.
type Client struct {
	id     string
	conn   wsConnection
	opts   ClientOptions
	logger *zerolog.Logger

	mu     sync.Mutex
	send   chan models.Event
	closed bool
}

func NewClient(conn wsConnection, opts ClientOptions, logger *zerolog.Logger) *Client {
	opts.withDefaults()
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		opts:   opts,
		logger: logger,
		send:   make(chan models.Event, opts.SendBuffer),
	}
}

func (c *Client) ID() string { return c.id }

// Enqueue never blocks. A client whose queue is full is too slow to keep up
// and gets closed.
func (c *Client) Enqueue(ev models.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		c.logger.Warn().Str("conn_id", c.id).Msg("Send queue full, closing client")
		c.closeLocked()
		return false
	}
}

// Close stops accepting events. Events already queued are still written.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump hands every inbound frame to handle until the socket fails.
func (c *Client) ReadPump(ctx context.Context, handle func(ctx context.Context, data []byte)) {
	defer c.conn.Close()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error().Err(err).Str("conn_id", c.id).Msg("WebSocket read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		handle(ctx, data)
	}
}

// WritePump writes queued events and keeps the socket alive with pings. It
// returns once the queue is closed and drained or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.Error().Err(err).Str("conn_id", c.id).Msg("WebSocket write error")
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
