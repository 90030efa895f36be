package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies a wire event. The names are the protocol and must not
// change: browser clients match on them verbatim.
type Kind string

// Client-to-server events.
const (
	KindJoinRoom      Kind = "join-room"
	KindLeaveRoom     Kind = "leave-room"
	KindStartSpeaking Kind = "start-speaking"
	KindStopSpeaking  Kind = "stop-speaking"
	KindOffer         Kind = "webrtc-offer"
	KindAnswer        Kind = "webrtc-answer"
	KindICECandidate  Kind = "webrtc-ice-candidate"
)

// Server-to-client events.
const (
	KindConnected           Kind = "connected"
	KindRoomUsers           Kind = "room-users"
	KindUserJoined          Kind = "user-joined"
	KindUserLeft            Kind = "user-left"
	KindUserStartedSpeaking Kind = "user-started-speaking"
	KindUserStoppedSpeaking Kind = "user-stopped-speaking"
)

var (
	ErrUnknownKind    = errors.New("unknown message kind")
	ErrMissingPayload = errors.New("missing payload")
)

// Envelope is the framing for every websocket message in both directions.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope of the given kind.
func NewEnvelope(kind Kind, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return &Envelope{Type: kind, Payload: raw}, nil
}

// MustEnvelope is NewEnvelope for payload types that cannot fail to marshal.
func MustEnvelope(kind Kind, payload any) *Envelope {
	env, err := NewEnvelope(kind, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// JoinRoom asks the relay to add the sender to a room.
type JoinRoom struct {
	Room     string `json:"room"`
	Username string `json:"username,omitempty"`
}

func (m *JoinRoom) Kind() Kind { return KindJoinRoom }

func (m *JoinRoom) validate() error {
	if m.Room == "" {
		return errors.New("join-room: room is required")
	}
	return nil
}

// LeaveRoom asks the relay to remove the sender from a room.
type LeaveRoom struct {
	Room string `json:"room"`
}

func (m *LeaveRoom) Kind() Kind { return KindLeaveRoom }

func (m *LeaveRoom) validate() error {
	if m.Room == "" {
		return errors.New("leave-room: room is required")
	}
	return nil
}

// Speaking announces the start or stop of voice activity in a room.
// It is shared by start-speaking and stop-speaking.
type Speaking struct {
	Room string `json:"room"`

	kind Kind
}

func (m *Speaking) Kind() Kind { return m.kind }

func (m *Speaking) validate() error {
	if m.Room == "" {
		return fmt.Errorf("%s: room is required", m.kind)
	}
	return nil
}

// NewSpeaking builds a Speaking payload of the given kind.
func NewSpeaking(kind Kind, room string) *Speaking {
	return &Speaking{Room: room, kind: kind}
}

// Signal is a directed WebRTC signaling message: an SDP offer/answer or an
// ICE candidate addressed to exactly one connection. The relay never
// interprets the SDP or candidate body.
type Signal struct {
	Target    string          `json:"target"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	kind Kind
}

func (m *Signal) Kind() Kind { return m.kind }

func (m *Signal) validate() error {
	if m.Target == "" {
		return fmt.Errorf("%s: target is required", m.kind)
	}
	switch m.kind {
	case KindOffer, KindAnswer:
		if len(m.SDP) == 0 {
			return fmt.Errorf("%s: sdp is required", m.kind)
		}
	case KindICECandidate:
		if len(m.Candidate) == 0 {
			return fmt.Errorf("%s: candidate is required", m.kind)
		}
	}
	return nil
}

// NewSignal builds a directed signaling payload of the given kind.
func NewSignal(kind Kind, target string, body json.RawMessage) *Signal {
	s := &Signal{Target: target, kind: kind}
	if kind == KindICECandidate {
		s.Candidate = body
	} else {
		s.SDP = body
	}
	return s
}

// ClientPayload is the closed set of messages a client may send.
type ClientPayload interface {
	Kind() Kind
	validate() error
}

// DecodeClient parses and validates a client-to-server message.
func DecodeClient(data []byte) (ClientPayload, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return DecodeClientEnvelope(&env)
}

// DecodeClientEnvelope parses and validates the payload of an already
// deframed client envelope.
func DecodeClientEnvelope(env *Envelope) (ClientPayload, error) {
	var p ClientPayload
	switch env.Type {
	case KindJoinRoom:
		p = &JoinRoom{}
	case KindLeaveRoom:
		p = &LeaveRoom{}
	case KindStartSpeaking, KindStopSpeaking:
		p = &Speaking{kind: env.Type}
	case KindOffer, KindAnswer, KindICECandidate:
		p = &Signal{kind: env.Type}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}

	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrMissingPayload, env.Type)
	}
	if err := json.Unmarshal(env.Payload, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// User is one presence entry: a connection id plus its display name.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Connected tells a client its own connection id, sent once at accept time.
type Connected struct {
	ID string `json:"id"`
}

// RoomUsers is the full membership snapshot sent to a joiner.
type RoomUsers struct {
	Room  string `json:"room"`
	Users []User `json:"users"`
}

// UserLeft announces a departure to the remaining room members. It doubles
// as the payload for the speaking indicator events, which carry only an id.
type UserLeft struct {
	ID string `json:"id"`
}

// Forwarded is a relayed offer/answer/candidate with the sender id attached.
type Forwarded struct {
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	From      string          `json:"from"`
}
