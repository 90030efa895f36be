package signaling

import (
	"sync"

	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/protocol"
)

// DefaultUsername is assigned when a join carries no display name.
const DefaultUsername = "Anonymous"

type connState struct {
	client   *Client
	username string
	rooms    map[string]struct{}
}

// Registry owns all connection and room state for the relay. A room exists
// exactly while it has at least one member; per-connection room sets and
// per-room member sets are kept mutually consistent under one lock.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*connState
	rooms map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*connState),
		rooms: make(map[string]map[string]struct{}),
	}
}

// Add records a freshly accepted connection. It belongs to no room until it
// joins one.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = &connState{
		client:   c,
		username: DefaultUsername,
		rooms:    make(map[string]struct{}),
	}
}

// Join adds the connection to a room, overwriting its display name, and
// returns the membership snapshot computed after the join so it includes the
// joiner. Joining a room the connection is already in is idempotent.
// ok is false when the connection is unknown.
func (r *Registry) Join(id, room, username string) (members []protocol.User, ok bool) {
	if username == "" {
		username = DefaultUsername
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cs, exists := r.conns[id]
	if !exists {
		return nil, false
	}
	cs.username = username
	cs.rooms[room] = struct{}{}

	ids := r.rooms[room]
	if ids == nil {
		ids = make(map[string]struct{})
		r.rooms[room] = ids
	}
	ids[id] = struct{}{}

	members = make([]protocol.User, 0, len(ids))
	for memberID := range ids {
		members = append(members, protocol.User{
			ID:       memberID,
			Username: r.conns[memberID].username,
		})
	}
	return members, true
}

// Leave removes the connection from a room. It is a no-op when the
// connection was not a member. Empty rooms are deleted.
func (r *Registry) Leave(id, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(id, room)
}

func (r *Registry) leaveLocked(id, room string) {
	if cs, ok := r.conns[id]; ok {
		delete(cs.rooms, room)
	}
	ids, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(r.rooms, room)
	}
}

// Disconnect removes the connection from every room it belonged to and
// forgets it entirely. It returns the rooms the connection was in so the
// caller can notify each of them.
func (r *Registry) Disconnect(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, ok := r.conns[id]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(cs.rooms))
	for room := range cs.rooms {
		rooms = append(rooms, room)
		r.leaveLocked(id, room)
	}
	delete(r.conns, id)
	return rooms
}

// Lookup resolves a connection id to its display name.
func (r *Registry) Lookup(id string) (username string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.conns[id]
	if !ok {
		return "", false
	}
	return cs.username, true
}

// Client returns the live client for a connection id, used for directed
// delivery. ok is false when the target no longer exists.
func (r *Registry) Client(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return cs.client, true
}

// RoomClients returns the clients in a room, excluding excludeID. Used for
// room broadcasts, which never echo back to the sender.
func (r *Registry) RoomClients(room, excludeID string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, ok := r.rooms[room]
	if !ok {
		return nil
	}
	clients := make([]*Client, 0, len(ids))
	for id := range ids {
		if id == excludeID {
			continue
		}
		clients = append(clients, r.conns[id].client)
	}
	return clients
}

// Rooms reports which rooms a connection currently belongs to.
func (r *Registry) Rooms(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, ok := r.conns[id]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(cs.rooms))
	for room := range cs.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// RoomSize reports the current member count of a room; zero means the room
// does not exist.
func (r *Registry) RoomSize(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}
