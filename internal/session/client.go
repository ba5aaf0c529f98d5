package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	maxMsgSize = 64 * 1024
)

// Client is one editor connection. It is attached to its session only
// after the hub accepts it; a refused or detached client keeps its socket
// open just long enough to flush the messages already queued.
//
// The send channel is never closed. Shutdown goes through done, so Send is
// safe to call at any point in the client's life.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	SessionID string
	ClientID  string

	attached atomic.Bool

	done        chan struct{}
	finishOnce  sync.Once
	closeStatus websocket.StatusCode
	closeReason string
}

func NewClient(hub *Hub, conn *websocket.Conn, sessionID, clientID string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		SessionID: sessionID,
		ClientID:  clientID,
		done:      make(chan struct{}),
	}
}

// Attached reports whether the hub made this client the session's editor.
func (c *Client) Attached() bool {
	return c.attached.Load()
}

// finish ends the client. The write pump flushes what is queued and then
// closes the socket with the given status.
func (c *Client) finish(status websocket.StatusCode, reason string) {
	c.finishOnce.Do(func() {
		c.attached.Store(false)
		c.closeStatus = status
		c.closeReason = reason
		close(c.done)
	})
}

func (c *Client) finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(maxMsgSize)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return
			}
			c.hub.logger.Debug("read error", "error", err, "client", c.ClientID)
			return
		}
		if c.finished() {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Warn("invalid message", "error", err, "client", c.ClientID)
			continue
		}

		msg.ClientID = c.ClientID
		msg.SessionID = c.SessionID

		c.hub.handleMessage(ctx, c, &msg)
	}
}

func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			if err := c.write(ctx, message); err != nil {
				c.hub.logger.Debug("write error", "error", err, "client", c.ClientID)
				c.conn.Close(websocket.StatusInternalError, "")
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.conn.Close(websocket.StatusGoingAway, "")
				return
			}

		case <-c.done:
			c.flush(ctx)
			c.conn.Close(c.closeStatus, c.closeReason)
			return

		case <-ctx.Done():
			return
		}
	}
}

// flush writes whatever is still queued, such as the refusal error.
func (c *Client) flush(ctx context.Context) {
	for {
		select {
		case message := <-c.send:
			if err := c.write(ctx, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(ctx context.Context, message []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, message)
}

// Send queues msg for the socket. It reports false once the client is
// finished or its buffer is full.
func (c *Client) Send(msg *Message) bool {
	if c.finished() {
		return false
	}
	msg.ClientID = c.ClientID
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("marshal message", "error", err)
		return false
	}

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		c.hub.logger.Warn("client send buffer full, dropping message", "client", c.ClientID)
		return false
	}
}
