// Package stream maintains the websocket connection to the realtime event
// hub. It owns connecting, reconnecting, and the read loop; decoded frames
// are handed to the dispatcher untouched. Reconnection uses exponential
// backoff and resets after every successful connect.
package stream

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
)

// Handler receives every raw frame read from the hub.
type Handler func(data []byte)

// ConnHandler is notified on connectivity transitions.
type ConnHandler func(connected bool)

// Client is the stream transport. Construct with New, then Run until the
// context is cancelled.
type Client struct {
	url         string
	handler     Handler
	connHandler ConnHandler

	mu   sync.Mutex
	conn *websocket.Conn
}

// New builds a stream client. Both handlers are required; the connectivity
// handler may be a no-op.
func New(url string, handler Handler, connHandler ConnHandler) *Client {
	if connHandler == nil {
		connHandler = func(bool) {}
	}
	return &Client{url: url, handler: handler, connHandler: connHandler}
}

// Run maintains the connection until ctx is cancelled. Dial failures and
// dropped connections are retried with exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = time.Minute

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			sleep := backoffCfg.NextBackOff()
			log.Printf("Stream dial failed (%v), retrying in %s", err, sleep)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
				continue
			}
		}

		log.Println("🔌 Connected to event stream")
		backoffCfg.Reset()

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.connHandler(true)

		err = c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.connHandler(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("Stream connection closed (%v), reconnecting...", err)
	}
}

// Close tears down the active connection, if any. Run's read loop observes
// the closure and exits or reconnects depending on its context.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "shutdown")
}

// readLoop pumps frames to the handler until the connection drops. Handler
// execution is inline, so the dispatcher must stay fast and non-blocking.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close(websocket.StatusInternalError, "read loop exit")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.handler(data)
	}
}
