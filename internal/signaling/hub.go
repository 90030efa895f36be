package signaling

import (
	"context"
	"log/slog"

	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/protocol"
)

// inbound pairs a decoded client message with its sender.
type inbound struct {
	client  *Client
	payload protocol.ClientPayload
}

// Hub is the central brain of the signaling relay. All registry mutations
// and fan-out happen on its single Run loop, so every handler runs to
// completion between a mutation and the matching snapshot or broadcast.
//
// The hub never touches the websocket directly: delivery is a non-blocking
// push onto each client's buffered Send channel, and the client's write pump
// does the rest. A slow consumer loses messages instead of stalling the
// loop.
type Hub struct {
	registry *Registry
	logger   *slog.Logger

	Register   chan *Client
	Unregister chan *Client
	Inbound    chan inbound
}

// NewHub creates a hub around the given registry.
func NewHub(registry *Registry, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry:   registry,
		logger:     logger,
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan inbound),
	}
}

// Registry exposes the hub's registry, mainly for tests and health checks.
func (h *Hub) Registry() *Registry { return h.registry }

// Run processes register/unregister/message events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.Register:
			h.registry.Add(client)
			h.logger.Debug("client registered", "id", client.ID)

		case client := <-h.Unregister:
			h.handleDisconnect(client)

		case msg := <-h.Inbound:
			h.dispatch(msg.client, msg.payload)
		}
	}
}

// dispatch routes one decoded client message. Adding a protocol kind without
// a case here lands in the default branch, which logs loudly.
func (h *Hub) dispatch(c *Client, payload protocol.ClientPayload) {
	switch p := payload.(type) {
	case *protocol.JoinRoom:
		h.handleJoin(c, p)

	case *protocol.LeaveRoom:
		h.handleLeave(c, p.Room)

	case *protocol.Speaking:
		h.handleSpeaking(c, p)

	case *protocol.Signal:
		h.handleSignal(c, p)

	default:
		h.logger.Error("unhandled message kind", "kind", payload.Kind(), "from", c.ID)
	}
}

func (h *Hub) handleJoin(c *Client, p *protocol.JoinRoom) {
	members, ok := h.registry.Join(c.ID, p.Room, p.Username)
	if !ok {
		h.logger.Warn("join from unknown connection", "id", c.ID)
		return
	}
	username, _ := h.registry.Lookup(c.ID)
	h.logger.Info("user joined room", "id", c.ID, "room", p.Room, "username", username)

	h.broadcast(p.Room, c.ID, protocol.MustEnvelope(protocol.KindUserJoined, protocol.User{
		ID:       c.ID,
		Username: username,
	}))
	h.send(c, protocol.MustEnvelope(protocol.KindRoomUsers, protocol.RoomUsers{
		Room:  p.Room,
		Users: members,
	}))
}

func (h *Hub) handleLeave(c *Client, room string) {
	h.registry.Leave(c.ID, room)
	h.logger.Info("user left room", "id", c.ID, "room", room)
	h.broadcast(room, c.ID, protocol.MustEnvelope(protocol.KindUserLeft, protocol.UserLeft{ID: c.ID}))
}

func (h *Hub) handleSpeaking(c *Client, p *protocol.Speaking) {
	kind := protocol.KindUserStartedSpeaking
	if p.Kind() == protocol.KindStopSpeaking {
		kind = protocol.KindUserStoppedSpeaking
	}
	h.broadcast(p.Room, c.ID, protocol.MustEnvelope(kind, protocol.UserLeft{ID: c.ID}))
}

// handleSignal forwards a directed offer/answer/candidate to its single
// target. An unknown target means the peer is already gone; the message is
// dropped without surfacing an error to the sender.
func (h *Hub) handleSignal(c *Client, p *protocol.Signal) {
	target, ok := h.registry.Client(p.Target)
	if !ok {
		h.logger.Debug("dropping signal for unknown target", "kind", p.Kind(), "target", p.Target, "from", c.ID)
		return
	}

	forwarded := protocol.Forwarded{From: c.ID}
	if p.Kind() == protocol.KindICECandidate {
		forwarded.Candidate = p.Candidate
	} else {
		forwarded.SDP = p.SDP
	}
	h.send(target, protocol.MustEnvelope(p.Kind(), forwarded))
}

// handleDisconnect treats a transport drop as an implicit leave from every
// joined room: one user-left per room, then the registry entry is gone.
func (h *Hub) handleDisconnect(c *Client) {
	rooms := h.registry.Disconnect(c.ID)
	for _, room := range rooms {
		h.broadcast(room, c.ID, protocol.MustEnvelope(protocol.KindUserLeft, protocol.UserLeft{ID: c.ID}))
	}
	close(c.Send)
	h.logger.Debug("client unregistered", "id", c.ID, "rooms", len(rooms))
}

// broadcast fans out to every room member except the sender.
func (h *Hub) broadcast(room, excludeID string, env *protocol.Envelope) {
	for _, client := range h.registry.RoomClients(room, excludeID) {
		h.send(client, env)
	}
}

// send is fire-and-forget: it never blocks the hub loop.
func (h *Hub) send(c *Client, env *protocol.Envelope) {
	select {
	case c.Send <- env:
	default:
		h.logger.Warn("send buffer full, dropping message", "id", c.ID, "kind", env.Type)
	}
}
