package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeClientJoinRoom(t *testing.T) {
	raw := []byte(`{"type":"join-room","payload":{"room":"general","username":"ada"}}`)

	p, err := DecodeClient(raw)
	if err != nil {
		t.Fatalf("DecodeClient: %v", err)
	}
	join, ok := p.(*JoinRoom)
	if !ok {
		t.Fatalf("payload type %T, want *JoinRoom", p)
	}
	if join.Room != "general" || join.Username != "ada" {
		t.Fatalf("decoded %+v", join)
	}
	if join.Kind() != KindJoinRoom {
		t.Fatalf("Kind=%s", join.Kind())
	}
}

func TestDecodeClientRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"join without room", `{"type":"join-room","payload":{"username":"x"}}`},
		{"leave without room", `{"type":"leave-room","payload":{}}`},
		{"speaking without room", `{"type":"start-speaking","payload":{}}`},
		{"offer without target", `{"type":"webrtc-offer","payload":{"sdp":{"type":"offer","sdp":"v=0"}}}`},
		{"offer without sdp", `{"type":"webrtc-offer","payload":{"target":"abc"}}`},
		{"candidate without body", `{"type":"webrtc-ice-candidate","payload":{"target":"abc"}}`},
		{"no payload", `{"type":"join-room"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeClient([]byte(tc.raw)); err == nil {
				t.Fatalf("DecodeClient(%s) succeeded, want error", tc.raw)
			}
		})
	}
}

func TestDecodeClientUnknownKind(t *testing.T) {
	_, err := DecodeClient([]byte(`{"type":"send-cat-picture","payload":{}}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err=%v, want ErrUnknownKind", err)
	}
}

func TestSpeakingKindRoundTrip(t *testing.T) {
	for _, kind := range []Kind{KindStartSpeaking, KindStopSpeaking} {
		env := MustEnvelope(kind, NewSpeaking(kind, "general"))
		data, err := json.Marshal(env)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		p, err := DecodeClient(data)
		if err != nil {
			t.Fatalf("DecodeClient: %v", err)
		}
		if p.Kind() != kind {
			t.Fatalf("Kind=%s, want %s", p.Kind(), kind)
		}
	}
}

func TestSignalPreservesBodyVerbatim(t *testing.T) {
	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n"}`)
	sig := NewSignal(KindOffer, "peer-1", sdp)
	env := MustEnvelope(KindOffer, sig)

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	p, err := DecodeClient(data)
	if err != nil {
		t.Fatalf("DecodeClient: %v", err)
	}
	got := p.(*Signal)
	if got.Target != "peer-1" {
		t.Fatalf("Target=%q", got.Target)
	}
	if string(got.SDP) != string(sdp) {
		t.Fatalf("SDP=%s, want %s", got.SDP, sdp)
	}
}

func TestNewSignalRoutesBodyByKind(t *testing.T) {
	body := json.RawMessage(`{"candidate":"candidate:1"}`)
	if s := NewSignal(KindICECandidate, "x", body); len(s.Candidate) == 0 || len(s.SDP) != 0 {
		t.Fatalf("candidate signal: %+v", s)
	}
	if s := NewSignal(KindAnswer, "x", body); len(s.SDP) == 0 || len(s.Candidate) != 0 {
		t.Fatalf("answer signal: %+v", s)
	}
}
