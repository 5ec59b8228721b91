package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	// writeWait is how long a single write may take before the
	// connection is considered dead.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before giving up.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound reads. Subscribers never send
	// application data, only pongs and close frames.
	maxMessageSize = 1024
)

// Client is one websocket subscriber attached to a hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

// Serve attaches conn to the hub and blocks until the connection
// closes. Call it from inside the fiber websocket handler. Welcome
// messages are delivered before any broadcast.
func Serve(h *Hub, conn *websocket.Conn, welcome ...Message) {
	c := &Client{hub: h, conn: conn, send: make(chan Message, 32)}
	for _, msg := range welcome {
		c.send <- msg
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

// readPump consumes the connection until it errors, which is how
// disconnects are detected. Pongs refresh the read deadline.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only goroutine that writes to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the queue: evicted or shut down.
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			kind := websocket.TextMessage
			if msg.Binary {
				kind = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(kind, msg.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
