// Package bus is the WebSocket adapter of the room bus: upgrade, auth,
// read/write pumps and envelope dispatch into the hub.
package bus

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dayplan-app/waypoint/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

type wsBusConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsBusConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsBusConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
