package signaling

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP bodies fit comfortably.
	maxMessageSize = 64 * 1024

	// Outbound buffer per connection. The hub drops instead of blocking
	// once this fills.
	sendBufferSize = 256
)

// Client is the server-side wrapper for a single websocket connection.
type Client struct {
	// ID is the connection id assigned at accept time. It is the address
	// for directed relay messages and stable for the connection's lifetime.
	ID string

	Hub  *Hub
	Conn *websocket.Conn

	// Send carries outbound envelopes to the write pump. The hub closes it
	// on unregister.
	Send chan *protocol.Envelope

	logger *slog.Logger
}

// NewClient wraps an accepted websocket connection.
func NewClient(id string, hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		ID:     id,
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan *protocol.Envelope, sendBufferSize),
		logger: logger,
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. All reads
// happen here, so there is at most one reader per connection.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", "id", c.ID, "err", err)
			}
			return
		}

		payload, err := protocol.DecodeClient(data)
		if err != nil {
			// Malformed input is contained to this connection: drop and
			// keep reading.
			c.logger.Warn("dropping malformed message", "id", c.ID, "err", err)
			continue
		}

		c.Hub.Inbound <- inbound{client: c, payload: payload}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started per connection; all writes happen
// here, so there is at most one writer per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(env); err != nil {
				c.logger.Warn("write error", "id", c.ID, "err", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
