// Package ws is the client-facing transport: a websocket endpoint
// speaking the event protocol of package wire, one reader and one
// buffered writer goroutine per connection.
package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/localmesh/relay/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// ErrSendBufferFull signals a consumer too slow to keep up; the
// connection is torn down rather than letting it stall fan-out.
var ErrSendBufferFull = errors.New("ws: send buffer full")

var errConnClosed = errors.New("ws: connection closed")

// Conn adapts a websocket to hub.Conn. Send only queues; the write pump
// goroutine owns all writes to the socket.
type Conn struct {
	ws       *websocket.Conn
	out      chan wire.Outgoing
	done     chan struct{}
	stopOnce sync.Once
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:   ws,
		out:  make(chan wire.Outgoing, sendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues an event for the write pump. It never blocks: a full
// buffer shuts the connection down and reports the drop to the caller.
func (c *Conn) Send(event string, data any) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.out <- wire.Outgoing{Event: event, Data: data}:
		return nil
	default:
		c.shutdown()
		return ErrSendBufferFull
	}
}

// shutdown asks the write pump to close the socket. Safe to call from
// any goroutine, any number of times.
func (c *Conn) shutdown() {
	c.stopOnce.Do(func() { close(c.done) })
}

// writePump drains the send buffer onto the socket and keeps the
// connection alive with pings. Exactly one pump runs per connection.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case ev := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
