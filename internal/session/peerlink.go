package session

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Role says which side of a peer link initiated negotiation. The newly
// joined client offers to every member it finds in its room snapshot; the
// side receiving that offer answers.
type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleAnswerer {
		return "answerer"
	}
	return "offerer"
}

// LinkState tracks a peer link's negotiation progress. Closed is reachable
// from every state.
type LinkState int

const (
	LinkNew LinkState = iota
	LinkOfferSent
	LinkAnswerSent
	LinkConnected
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkOfferSent:
		return "offer-sent"
	case LinkAnswerSent:
		return "answer-sent"
	case LinkConnected:
		return "connected"
	case LinkClosed:
		return "closed"
	default:
		return "new"
	}
}

// PeerLink is the local end of one WebRTC connection to one remote room
// member. All mutation goes through the owning Session; nothing here is
// shared with callbacks beyond the link itself.
type PeerLink struct {
	remoteID string
	role     Role
	pc       *webrtc.PeerConnection

	mu    sync.Mutex
	state LinkState
	// Candidates that arrived before the remote description was set, in
	// arrival order. Flushed exactly once.
	pending []webrtc.ICECandidateInit
	senders []*webrtc.RTPSender
	// Set when a track change happened while an offer round was in flight;
	// the owning session renegotiates once signaling settles.
	renegotiate bool
}

func newPeerLink(remoteID string, role Role, pc *webrtc.PeerConnection) *PeerLink {
	return &PeerLink{
		remoteID: remoteID,
		role:     role,
		pc:       pc,
	}
}

func (l *PeerLink) RemoteID() string { return l.remoteID }
func (l *PeerLink) Role() Role       { return l.role }

func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *PeerLink) setState(s LinkState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// advance moves from an expected state to the next one, leaving later states
// (Connected) untouched during renegotiation.
func (l *PeerLink) advance(from, to LinkState) {
	l.mu.Lock()
	if l.state == from {
		l.state = to
	}
	l.mu.Unlock()
}

// setRemoteDescription applies the remote SDP and flushes every buffered
// candidate in arrival order.
func (l *PeerLink) setRemoteDescription(desc webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description for %s: %w", l.remoteID, err)
	}
	return l.flushPending()
}

// addCandidate applies a remote ICE candidate, buffering it when the remote
// description is not set yet (pion rejects early candidates).
func (l *PeerLink) addCandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if l.pc.RemoteDescription() == nil {
		l.pending = append(l.pending, c)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.pc.AddICECandidate(c)
}

func (l *PeerLink) flushPending() error {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("flush candidate for %s: %w", l.remoteID, err)
		}
	}
	return nil
}

func (l *PeerLink) deferRenegotiation() {
	l.mu.Lock()
	l.renegotiate = true
	l.mu.Unlock()
}

// takeDeferredRenegotiation reports and clears the deferred-renegotiation
// flag.
func (l *PeerLink) takeDeferredRenegotiation() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := l.renegotiate
	l.renegotiate = false
	return v
}

func (l *PeerLink) pendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// attachTrack adds the local audio track as an outbound sender. On an
// already negotiated link this triggers renegotiation with that one peer.
func (l *PeerLink) attachTrack(track webrtc.TrackLocal) error {
	sender, err := l.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("attach track for %s: %w", l.remoteID, err)
	}
	l.mu.Lock()
	l.senders = append(l.senders, sender)
	l.mu.Unlock()
	return nil
}

// detachTracks removes every outbound sender. Track removal, not teardown:
// the link itself stays up for receiving.
func (l *PeerLink) detachTracks() {
	l.mu.Lock()
	senders := l.senders
	l.senders = nil
	l.mu.Unlock()

	for _, sender := range senders {
		l.pc.RemoveTrack(sender)
	}
}

func (l *PeerLink) senderCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.senders)
}

// close tears down the underlying transport. Idempotent.
func (l *PeerLink) close() {
	l.mu.Lock()
	already := l.state == LinkClosed
	l.state = LinkClosed
	l.mu.Unlock()
	if !already {
		l.pc.Close()
	}
}
