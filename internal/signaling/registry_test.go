package signaling

import (
	"sort"
	"testing"
)

func addConn(r *Registry, id string) *Client {
	c := &Client{ID: id}
	r.Add(c)
	return c
}

func TestRegistryJoinSnapshotIncludesJoiner(t *testing.T) {
	r := NewRegistry()
	addConn(r, "x")
	addConn(r, "y")

	members, ok := r.Join("x", "general", "xena")
	if !ok {
		t.Fatal("Join x failed")
	}
	if len(members) != 1 || members[0].ID != "x" || members[0].Username != "xena" {
		t.Fatalf("first snapshot=%+v", members)
	}

	members, ok = r.Join("y", "general", "yuri")
	if !ok {
		t.Fatal("Join y failed")
	}
	if len(members) != 2 {
		t.Fatalf("second snapshot has %d entries, want 2", len(members))
	}
}

func TestRegistryJoinDefaultsUsername(t *testing.T) {
	r := NewRegistry()
	addConn(r, "x")

	members, _ := r.Join("x", "general", "")
	if members[0].Username != DefaultUsername {
		t.Fatalf("username=%q, want %q", members[0].Username, DefaultUsername)
	}
}

func TestRegistryJoinIsIdempotentAndUpdatesUsername(t *testing.T) {
	r := NewRegistry()
	addConn(r, "x")

	r.Join("x", "general", "first")
	members, _ := r.Join("x", "general", "second")

	if len(members) != 1 {
		t.Fatalf("snapshot has %d entries after re-join, want 1", len(members))
	}
	if members[0].Username != "second" {
		t.Fatalf("username=%q, want overwrite to %q", members[0].Username, "second")
	}
	if got := r.RoomSize("general"); got != 1 {
		t.Fatalf("RoomSize=%d, want 1", got)
	}
}

func TestRegistryBidirectionalConsistency(t *testing.T) {
	r := NewRegistry()
	addConn(r, "x")
	addConn(r, "y")

	steps := []struct {
		op   string
		id   string
		room string
	}{
		{"join", "x", "a"},
		{"join", "x", "b"},
		{"join", "y", "a"},
		{"leave", "x", "a"},
		{"join", "x", "a"},
		{"leave", "y", "a"},
		{"leave", "x", "b"},
	}
	for _, s := range steps {
		switch s.op {
		case "join":
			r.Join(s.id, s.room, s.id)
		case "leave":
			r.Leave(s.id, s.room)
		}

		// Every room a connection claims must list it, and every room
		// member must claim the room.
		for _, id := range []string{"x", "y"} {
			for _, room := range r.Rooms(id) {
				found := false
				for _, c := range r.RoomClients(room, "") {
					if c.ID == id {
						found = true
					}
				}
				if !found {
					t.Fatalf("after %+v: %s claims room %s but room does not list it", s, id, room)
				}
			}
		}
		for _, room := range []string{"a", "b"} {
			for _, c := range r.RoomClients(room, "") {
				claims := r.Rooms(c.ID)
				sort.Strings(claims)
				found := sort.SearchStrings(claims, room)
				if found == len(claims) || claims[found] != room {
					t.Fatalf("after %+v: room %s lists %s but connection does not claim it", s, room, c.ID)
				}
			}
		}
	}
}

func TestRegistryLeaveUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	addConn(r, "x")
	r.Leave("x", "never-joined")
	r.Leave("ghost", "general")
}

func TestRegistryEmptyRoomIsDeleted(t *testing.T) {
	r := NewRegistry()
	addConn(r, "x")
	r.Join("x", "general", "x")
	r.Leave("x", "general")

	if got := r.RoomSize("general"); got != 0 {
		t.Fatalf("RoomSize=%d after last leave, want 0", got)
	}
	if clients := r.RoomClients("general", ""); clients != nil {
		t.Fatalf("RoomClients=%v for deleted room, want nil", clients)
	}
}

func TestRegistryDisconnectReturnsRoomsAndForgets(t *testing.T) {
	r := NewRegistry()
	addConn(r, "y")
	r.Join("y", "general", "y")
	r.Join("y", "dm-x-y", "y")

	rooms := r.Disconnect("y")
	sort.Strings(rooms)
	if len(rooms) != 2 || rooms[0] != "dm-x-y" || rooms[1] != "general" {
		t.Fatalf("Disconnect rooms=%v", rooms)
	}

	if _, ok := r.Lookup("y"); ok {
		t.Fatal("Lookup succeeded after Disconnect")
	}
	if _, ok := r.Client("y"); ok {
		t.Fatal("Client succeeded after Disconnect")
	}
	if got := r.RoomSize("general"); got != 0 {
		t.Fatalf("RoomSize=%d after sole member disconnected, want 0", got)
	}

	if again := r.Disconnect("y"); again != nil {
		t.Fatalf("second Disconnect=%v, want nil", again)
	}
}
