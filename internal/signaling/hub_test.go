package signaling

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/protocol"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(NewRegistry(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func register(t *testing.T, hub *Hub, id string) *Client {
	t.Helper()
	c := &Client{ID: id, Hub: hub, Send: make(chan *protocol.Envelope, sendBufferSize)}
	hub.Register <- c
	return c
}

func join(t *testing.T, hub *Hub, c *Client, room, username string) {
	t.Helper()
	hub.Inbound <- inbound{client: c, payload: &protocol.JoinRoom{Room: room, Username: username}}
}

func recvKind(t *testing.T, c *Client, kind protocol.Kind) *protocol.Envelope {
	t.Helper()
	select {
	case env, ok := <-c.Send:
		if !ok {
			t.Fatalf("%s: send channel closed while waiting for %s", c.ID, kind)
		}
		if env.Type != kind {
			t.Fatalf("%s: got %s, want %s", c.ID, env.Type, kind)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: timed out waiting for %s", c.ID, kind)
		return nil
	}
}

func expectSilence(t *testing.T, c *Client) {
	t.Helper()
	select {
	case env, ok := <-c.Send:
		if ok {
			t.Fatalf("%s: unexpected %s", c.ID, env.Type)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func decodePayload[T any](t *testing.T, env *protocol.Envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		t.Fatalf("decode %s payload: %v", env.Type, err)
	}
	return out
}

func TestHubJoinSequence(t *testing.T) {
	hub := newTestHub(t)
	x := register(t, hub, "x")
	y := register(t, hub, "y")

	join(t, hub, x, "general", "xena")
	snap := decodePayload[protocol.RoomUsers](t, recvKind(t, x, protocol.KindRoomUsers))
	if snap.Room != "general" || len(snap.Users) != 1 || snap.Users[0].ID != "x" {
		t.Fatalf("first snapshot=%+v", snap)
	}

	join(t, hub, y, "general", "yuri")
	joined := decodePayload[protocol.User](t, recvKind(t, x, protocol.KindUserJoined))
	if joined.ID != "y" || joined.Username != "yuri" {
		t.Fatalf("user-joined=%+v", joined)
	}
	snap = decodePayload[protocol.RoomUsers](t, recvKind(t, y, protocol.KindRoomUsers))
	if len(snap.Users) != 2 {
		t.Fatalf("second snapshot has %d users, want 2", len(snap.Users))
	}
	// The joiner must not hear its own user-joined broadcast.
	expectSilence(t, y)
}

func TestHubSpeakingBroadcastExcludesSender(t *testing.T) {
	hub := newTestHub(t)
	x := register(t, hub, "x")
	y := register(t, hub, "y")
	join(t, hub, x, "general", "")
	join(t, hub, y, "general", "")
	recvKind(t, x, protocol.KindRoomUsers)
	recvKind(t, x, protocol.KindUserJoined)
	recvKind(t, y, protocol.KindRoomUsers)

	hub.Inbound <- inbound{client: y, payload: protocol.NewSpeaking(protocol.KindStartSpeaking, "general")}
	ind := decodePayload[protocol.UserLeft](t, recvKind(t, x, protocol.KindUserStartedSpeaking))
	if ind.ID != "y" {
		t.Fatalf("speaking indicator id=%q, want y", ind.ID)
	}
	expectSilence(t, y)

	hub.Inbound <- inbound{client: y, payload: protocol.NewSpeaking(protocol.KindStopSpeaking, "general")}
	recvKind(t, x, protocol.KindUserStoppedSpeaking)
}

func TestHubDirectedSignalReachesOnlyTarget(t *testing.T) {
	hub := newTestHub(t)
	x := register(t, hub, "x")
	y := register(t, hub, "y")
	z := register(t, hub, "z")
	for _, c := range []*Client{x, y, z} {
		join(t, hub, c, "general", "")
		recvKind(t, c, protocol.KindRoomUsers)
	}
	// Drain the user-joined broadcasts from the later joins.
	recvKind(t, x, protocol.KindUserJoined)
	recvKind(t, x, protocol.KindUserJoined)
	recvKind(t, y, protocol.KindUserJoined)

	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n"}`)
	hub.Inbound <- inbound{client: y, payload: protocol.NewSignal(protocol.KindOffer, "x", sdp)}

	fwd := decodePayload[protocol.Forwarded](t, recvKind(t, x, protocol.KindOffer))
	if fwd.From != "y" {
		t.Fatalf("from=%q, want y", fwd.From)
	}
	if string(fwd.SDP) != string(sdp) {
		t.Fatalf("sdp=%s, want %s", fwd.SDP, sdp)
	}
	expectSilence(t, y)
	expectSilence(t, z)
}

func TestHubDropsSignalForUnknownTarget(t *testing.T) {
	hub := newTestHub(t)
	x := register(t, hub, "x")
	y := register(t, hub, "y")
	join(t, hub, x, "general", "")
	join(t, hub, y, "general", "")
	recvKind(t, x, protocol.KindRoomUsers)
	recvKind(t, x, protocol.KindUserJoined)
	recvKind(t, y, protocol.KindRoomUsers)

	hub.Inbound <- inbound{client: x, payload: protocol.NewSignal(protocol.KindAnswer, "ghost", json.RawMessage(`{}`))}
	expectSilence(t, x)
	expectSilence(t, y)

	// The sender's own stream is unaffected: a later directed message
	// still goes through.
	hub.Inbound <- inbound{client: x, payload: protocol.NewSignal(protocol.KindICECandidate, "y", json.RawMessage(`{"candidate":"candidate:1"}`))}
	fwd := decodePayload[protocol.Forwarded](t, recvKind(t, y, protocol.KindICECandidate))
	if fwd.From != "x" || len(fwd.Candidate) == 0 {
		t.Fatalf("forwarded candidate=%+v", fwd)
	}
}

func TestHubLeaveRoomNotifiesRemainder(t *testing.T) {
	hub := newTestHub(t)
	x := register(t, hub, "x")
	y := register(t, hub, "y")
	join(t, hub, x, "general", "")
	join(t, hub, y, "general", "")
	recvKind(t, x, protocol.KindRoomUsers)
	recvKind(t, x, protocol.KindUserJoined)
	recvKind(t, y, protocol.KindRoomUsers)

	hub.Inbound <- inbound{client: y, payload: &protocol.LeaveRoom{Room: "general"}}
	left := decodePayload[protocol.UserLeft](t, recvKind(t, x, protocol.KindUserLeft))
	if left.ID != "y" {
		t.Fatalf("user-left id=%q, want y", left.ID)
	}
	if got := hub.Registry().RoomSize("general"); got != 1 {
		t.Fatalf("RoomSize=%d, want 1", got)
	}
}

func TestHubDisconnectEmitsUserLeftPerRoom(t *testing.T) {
	hub := newTestHub(t)
	x := register(t, hub, "x")
	y := register(t, hub, "y")
	z := register(t, hub, "z")
	join(t, hub, x, "general", "")
	join(t, hub, y, "general", "")
	join(t, hub, y, "dm-x-y", "")
	join(t, hub, z, "dm-x-y", "")
	recvKind(t, x, protocol.KindRoomUsers)
	recvKind(t, x, protocol.KindUserJoined)
	recvKind(t, y, protocol.KindRoomUsers)
	recvKind(t, y, protocol.KindRoomUsers)
	recvKind(t, y, protocol.KindUserJoined)
	recvKind(t, z, protocol.KindRoomUsers)

	hub.Unregister <- y

	leftX := decodePayload[protocol.UserLeft](t, recvKind(t, x, protocol.KindUserLeft))
	leftZ := decodePayload[protocol.UserLeft](t, recvKind(t, z, protocol.KindUserLeft))
	if leftX.ID != "y" || leftZ.ID != "y" {
		t.Fatalf("user-left ids: general=%q dm=%q, want y in both", leftX.ID, leftZ.ID)
	}
	// Exactly one per room, and no registry record remains.
	expectSilence(t, x)
	expectSilence(t, z)
	if _, ok := hub.Registry().Lookup("y"); ok {
		t.Fatal("registry still knows y after disconnect")
	}

	// The hub closes the departed client's send channel.
	select {
	case _, ok := <-y.Send:
		if ok {
			t.Fatal("expected y.Send to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("y.Send not closed")
	}
}
