package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wolfman30/clinic-queue/internal/tenancy"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

type client struct {
	actor tenancy.Actor
	conn  *websocket.Conn
	send  chan []byte
	alive atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(actor tenancy.Actor, conn *websocket.Conn, buffer int) *client {
	c := &client{
		actor: actor,
		conn:  conn,
		send:  make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// enqueue hands msg to the writer without blocking. It reports false when
// the buffer is full or the connection is shutting down.
func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// shutdown stops the writer and drops the socket. Safe to call repeatedly.
func (c *client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// closeWith sends a close frame before shutting down.
func (c *client) closeWith(code int, text string) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	c.shutdown()
}

func (c *client) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// readPump drains inbound frames so pong and close control frames are
// processed. Terminals never send application messages.
func (c *client) readPump(onExit func()) {
	defer onExit()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.shutdown()
				return
			}
		}
	}
}
