package session

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ErrTransportClosed is returned when sending on a closed signal connection.
var ErrTransportClosed = errors.New("signaling transport closed")

// Transport is the session's view of the relay connection. SignalClient is
// the production implementation; tests substitute an in-memory one.
type Transport interface {
	Send(env *protocol.Envelope) error
	Incoming() <-chan *protocol.Envelope
	Close()
}

// SignalClient manages the websocket connection to the signaling relay.
type SignalClient struct {
	conn      *websocket.Conn
	serverURL string
	incoming  chan *protocol.Envelope
	outgoing  chan *protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// NewSignalClient creates a client for the given ws:// or wss:// URL.
func NewSignalClient(serverURL string) *SignalClient {
	return &SignalClient{
		serverURL: serverURL,
		incoming:  make(chan *protocol.Envelope, 32),
		outgoing:  make(chan *protocol.Envelope, 32),
		done:      make(chan struct{}),
	}
}

// Connect establishes the websocket connection and starts the pumps.
func (c *SignalClient) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return nil
}

// readPump reads envelopes from the websocket until it fails or closes.
func (c *SignalClient) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		select {
		case c.incoming <- &env:
		case <-c.done:
			return
		}
	}
}

// writePump writes envelopes and periodic pings to the websocket.
func (c *SignalClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Send queues an envelope for delivery. It never blocks indefinitely: a
// stalled connection surfaces as ErrTransportClosed once Close runs.
func (c *SignalClient) Send(env *protocol.Envelope) error {
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return ErrTransportClosed
	}
}

// Incoming returns the channel of relay events. It is closed when the
// connection drops.
func (c *SignalClient) Incoming() <-chan *protocol.Envelope {
	return c.incoming
}

// Close shuts the connection down. Safe to call more than once.
func (c *SignalClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
