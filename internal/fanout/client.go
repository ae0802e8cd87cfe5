package fanout

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyzr/swarmx-controlplane/internal/eventlog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 512
)

// Client is a single websocket connection subscribed to one workflow's
// events.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	workflowID string
	send       chan []byte
}

func NewClient(hub *Hub, conn *websocket.Conn, workflowID string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		workflowID: workflowID,
		send:       make(chan []byte, 256),
	}
}

func encodeEnvelope(env eventlog.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// readPump discards inbound frames (this is a server-push-only feed) but
// keeps ping/pong alive so disconnects are detected promptly.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			n := len(c.send)
			for i := 0; i < n; i++ {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
