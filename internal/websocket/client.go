package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
	maxFrameSize   = 4096
)

var pong = []byte(`{"type":"pong"}`)

// control is a message sent by the browser. "watch" replaces the set of
// calendars the client follows; an empty list follows every calendar the
// user can see. "ping" is answered with a pong.
type control struct {
	Type        string   `json:"type"`
	CalendarIDs []string `json:"calendar_ids,omitempty"`
}

// Client is one authenticated connection.
type Client struct {
	hub      *Hub
	conn     *ws.Conn
	send     chan []byte
	userID   string
	familyID string

	mu    sync.RWMutex
	watch map[string]struct{}
}

func NewClient(hub *Hub, conn *ws.Conn, userID, familyID string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		userID:   userID,
		familyID: familyID,
	}
}

// Run serves the connection until either side closes it.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writeLoop(ctx)
	c.readLoop(ctx)
}

func (c *Client) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(maxFrameSize)
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == ws.MessageText {
			c.handle(data)
		}
	}
}

// handle applies one control message. Anything unrecognised is ignored.
func (c *Client) handle(data []byte) {
	var m control
	if err := json.Unmarshal(data, &m); err != nil {
		c.hub.logger.Debug("ignoring malformed client message", "user_id", c.userID, "error", err)
		return
	}
	switch m.Type {
	case "watch":
		c.setWatch(m.CalendarIDs)
	case "ping":
		c.queue(pong)
	}
}

func (c *Client) setWatch(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(ids) == 0 {
		c.watch = nil
		return
	}
	c.watch = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		c.watch[id] = struct{}{}
	}
}

// watches reports whether messages about calendarID reach the client.
// Messages that name no calendar always do.
func (c *Client) watches(calendarID string) bool {
	if calendarID == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.watch == nil {
		return true
	}
	_, ok := c.watch[calendarID]
	return ok
}

// queue hands data to the write loop, dropping it when the buffer is full.
func (c *Client) queue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writeLoop drains the send buffer and pings the peer. A failed write
// closes the connection, which ends the read loop.
func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			err = c.write(ctx, func(ctx context.Context) error {
				return c.conn.Write(ctx, ws.MessageText, msg)
			})
		case <-ticker.C:
			err = c.write(ctx, c.conn.Ping)
		case <-ctx.Done():
			return
		}
		if err != nil {
			c.hub.logger.Debug("websocket write failed", "user_id", c.userID, "error", err)
			c.conn.CloseNow()
			return
		}
	}
}

func (c *Client) write(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return fn(ctx)
}
