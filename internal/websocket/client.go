package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// Client is one WebSocket connection of an owner. It only receives.
type Client struct {
	hub   *Hub
	conn  *ws.Conn
	owner string
	send  chan []byte
}

// NewClient creates a Client for ownerID tied to the given hub and connection.
func NewClient(hub *Hub, conn *ws.Conn, ownerID string) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		owner: ownerID,
		send:  make(chan []byte, sendBufferSize),
	}
}

// Run registers the client and writes queued messages until the peer goes
// away, the hub closes the client, or ctx ends.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)
	defer c.conn.CloseNow()

	// CloseRead discards anything the peer sends, answers control frames,
	// and cancels ctx once the connection is gone.
	ctx = c.conn.CloseRead(ctx)
	c.writeLoop(ctx)
}

func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.Close(ws.StatusGoingAway, "server shutting down")
				return
			}
			if err := c.write(ctx, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) write(ctx context.Context, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, ws.MessageText, msg)
}

func (c *Client) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Ping(ctx)
}
