package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/config"
	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/media"
	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/protocol"
)

// ErrDisconnected is returned by Run when the relay connection drops.
var ErrDisconnected = errors.New("disconnected from signaling relay")

// EventKind classifies session events delivered to the UI.
type EventKind int

const (
	// EventMembers: the presence list changed.
	EventMembers EventKind = iota
	// EventSpeaking: a speaking indicator changed.
	EventSpeaking
	// EventLink: a peer link changed negotiation state.
	EventLink
	// EventNotice: a user-visible notice (e.g. receive-only mode).
	EventNotice
)

// Event is a UI notification. The UI re-reads Members on any event; Message
// is set for notices only.
type Event struct {
	Kind    EventKind
	PeerID  string
	Message string
}

// Member is one row of the observable room state.
type Member struct {
	ID       string
	Username string
	Self     bool
	Speaking bool
	Volume   float64
	Muted    bool
	Link     LinkState
}

// Session is the peer session manager: it keeps exactly one PeerLink per
// other room member, synchronized with relay presence and signaling events,
// and owns the local capture singleton.
type Session struct {
	cfg       *config.Config
	logger    *slog.Logger
	transport Transport
	capture   media.Capture
	newSink   func(peerID string) media.Sink

	mu            sync.Mutex
	selfID        string
	room          string
	joined        bool
	usernames     map[string]string
	speaking      map[string]bool
	links         map[string]*PeerLink
	sinks         map[string]media.Sink
	pendingCands  map[string][]webrtc.ICECandidateInit
	peerVolumes   map[string]float64
	peerMuted     map[string]bool
	localTrack    webrtc.TrackLocal
	localSpeaking bool
	closed        bool

	events chan Event
	done   chan struct{}
}

// New creates a session over an established transport.
func New(cfg *config.Config, transport Transport, capture media.Capture, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:       cfg,
		logger:    logger,
		transport: transport,
		capture:   capture,
		newSink: func(string) media.Sink {
			return media.NewDrainSink()
		},
		usernames:    make(map[string]string),
		speaking:     make(map[string]bool),
		links:        make(map[string]*PeerLink),
		sinks:        make(map[string]media.Sink),
		pendingCands: make(map[string][]webrtc.ICECandidateInit),
		peerVolumes:  make(map[string]float64),
		peerMuted:    make(map[string]bool),
		events:       make(chan Event, 32),
		done:         make(chan struct{}),
	}
}

// Run dispatches relay events until the transport closes, the context is
// cancelled, or Close is called.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()

		case <-s.done:
			return nil

		case env, ok := <-s.transport.Incoming():
			if !ok {
				s.teardownLinks()
				return ErrDisconnected
			}
			s.dispatch(env)
		}
	}
}

// Events returns the UI notification channel.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when the session shuts down.
func (s *Session) Done() <-chan struct{} { return s.done }

// SelfID returns our connection id, empty until the relay announces it.
func (s *Session) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// Room returns the currently joined room, empty when not joined.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return ""
	}
	return s.room
}

// JoinRoom announces this session in a room. The relay answers with a
// room-users snapshot that seeds the peer links.
func (s *Session) JoinRoom(room string) error {
	s.mu.Lock()
	s.room = room
	s.joined = true
	username := s.cfg.Username
	s.mu.Unlock()

	return s.transport.Send(protocol.MustEnvelope(protocol.KindJoinRoom, protocol.JoinRoom{
		Room:     room,
		Username: username,
	}))
}

// LeaveRoom leaves the current room and synchronously closes every peer
// link. No links survive a leave.
func (s *Session) LeaveRoom() error {
	s.mu.Lock()
	room := s.room
	joined := s.joined
	s.joined = false
	s.room = ""
	s.mu.Unlock()

	if !joined {
		return nil
	}
	s.teardownLinks()
	s.emit(Event{Kind: EventMembers})
	return s.transport.Send(protocol.MustEnvelope(protocol.KindLeaveRoom, protocol.LeaveRoom{Room: room}))
}

// StartSpeaking acquires the microphone (reusing it if already open),
// attaches its track to every peer link, and announces the speaking
// indicator. Capture denial is not fatal: the session degrades to
// receive-only and the indicator is still announced, reflecting intent.
func (s *Session) StartSpeaking() error {
	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return errors.New("not in a room")
	}
	room := s.room
	s.mu.Unlock()

	track, err := s.capture.AudioTrack()
	if err != nil {
		s.logger.Warn("capture unavailable, receive-only mode", "err", err)
		s.emit(Event{Kind: EventNotice, Message: "microphone unavailable: receive-only mode"})
		track = nil
	}

	s.mu.Lock()
	s.localTrack = track
	s.localSpeaking = true
	links := make([]*PeerLink, 0, len(s.links))
	for _, link := range s.links {
		links = append(links, link)
	}
	s.mu.Unlock()

	if track != nil {
		for _, link := range links {
			if link.senderCount() > 0 {
				continue
			}
			if err := link.attachTrack(track); err != nil {
				s.logger.Warn("attach track failed", "peer", link.remoteID, "err", err)
				continue
			}
			s.renegotiate(link)
		}
	}

	return s.transport.Send(protocol.MustEnvelope(protocol.KindStartSpeaking,
		protocol.NewSpeaking(protocol.KindStartSpeaking, room)))
}

// StopSpeaking detaches the local track from every link and announces the
// indicator. The capture stays open for the next StartSpeaking.
func (s *Session) StopSpeaking() error {
	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return errors.New("not in a room")
	}
	room := s.room
	s.localSpeaking = false
	links := make([]*PeerLink, 0, len(s.links))
	for _, link := range s.links {
		links = append(links, link)
	}
	s.mu.Unlock()

	for _, link := range links {
		if link.senderCount() == 0 {
			continue
		}
		link.detachTracks()
		s.renegotiate(link)
	}

	return s.transport.Send(protocol.MustEnvelope(protocol.KindStopSpeaking,
		protocol.NewSpeaking(protocol.KindStopSpeaking, room)))
}

// SetPeerVolume sets one peer's playback volume (0..1). The value survives
// link teardown so a rejoining peer keeps its level.
func (s *Session) SetPeerVolume(id string, level float64) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	s.mu.Lock()
	s.peerVolumes[id] = level
	sink := s.sinks[id]
	s.mu.Unlock()

	if sink != nil {
		sink.SetVolume(level)
	}
	s.emit(Event{Kind: EventMembers, PeerID: id})
}

// TogglePeerMute flips one peer's mute flag and returns the new state.
func (s *Session) TogglePeerMute(id string) bool {
	s.mu.Lock()
	muted := !s.peerMuted[id]
	s.peerMuted[id] = muted
	sink := s.sinks[id]
	s.mu.Unlock()

	if sink != nil {
		sink.SetMuted(muted)
	}
	s.emit(Event{Kind: EventMembers, PeerID: id})
	return muted
}

// Members returns the observable room state, self included, sorted by
// display name then id.
func (s *Session) Members() []Member {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make([]Member, 0, len(s.usernames)+1)
	if s.joined && s.selfID != "" {
		members = append(members, Member{
			ID:       s.selfID,
			Username: s.cfg.Username,
			Self:     true,
			Speaking: s.localSpeaking,
			Volume:   1.0,
		})
	}
	for id, username := range s.usernames {
		m := Member{
			ID:       id,
			Username: username,
			Speaking: s.speaking[id],
			Volume:   1.0,
			Muted:    s.peerMuted[id],
		}
		if v, ok := s.peerVolumes[id]; ok {
			m.Volume = v
		}
		if link, ok := s.links[id]; ok {
			m.Link = link.State()
		}
		members = append(members, m)
	}

	sort.Slice(members, func(i, j int) bool {
		if members[i].Username != members[j].Username {
			return members[i].Username < members[j].Username
		}
		return members[i].ID < members[j].ID
	})
	return members
}

// Reconnect is the user-triggered recovery path: every link is torn down
// and re-derived from a fresh room snapshot.
func (s *Session) Reconnect() error {
	s.mu.Lock()
	room := s.room
	joined := s.joined
	s.mu.Unlock()

	if !joined {
		return errors.New("not in a room")
	}
	s.teardownLinks()
	return s.JoinRoom(room)
}

// Close shuts the session down: all links closed, capture released,
// transport closed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.teardownLinks()
	s.capture.Close()
	s.transport.Close()
	close(s.done)
}

// dispatch routes one relay event. It runs on the Run goroutine only.
func (s *Session) dispatch(env *protocol.Envelope) {
	switch env.Type {
	case protocol.KindConnected:
		var p protocol.Connected
		if s.decode(env, &p) {
			s.mu.Lock()
			s.selfID = p.ID
			s.mu.Unlock()
			s.logger.Debug("connected", "id", p.ID)
		}

	case protocol.KindRoomUsers:
		var p protocol.RoomUsers
		if s.decode(env, &p) {
			s.handleRoomUsers(&p)
		}

	case protocol.KindUserJoined:
		var p protocol.User
		if s.decode(env, &p) {
			s.handleUserJoined(&p)
		}

	case protocol.KindUserLeft:
		var p protocol.UserLeft
		if s.decode(env, &p) {
			s.handleUserLeft(p.ID)
		}

	case protocol.KindUserStartedSpeaking, protocol.KindUserStoppedSpeaking:
		var p protocol.UserLeft
		if s.decode(env, &p) {
			s.mu.Lock()
			if env.Type == protocol.KindUserStartedSpeaking {
				s.speaking[p.ID] = true
			} else {
				delete(s.speaking, p.ID)
			}
			s.mu.Unlock()
			s.emit(Event{Kind: EventSpeaking, PeerID: p.ID})
		}

	case protocol.KindOffer:
		var p protocol.Forwarded
		if s.decode(env, &p) {
			s.handleRemoteOffer(p.From, p.SDP)
		}

	case protocol.KindAnswer:
		var p protocol.Forwarded
		if s.decode(env, &p) {
			s.handleRemoteAnswer(p.From, p.SDP)
		}

	case protocol.KindICECandidate:
		var p protocol.Forwarded
		if s.decode(env, &p) {
			s.handleRemoteCandidate(p.From, p.Candidate)
		}

	default:
		s.logger.Debug("ignoring unknown event", "kind", env.Type)
	}
}

func (s *Session) decode(env *protocol.Envelope, out any) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		s.logger.Warn("malformed relay event", "kind", env.Type, "err", err)
		return false
	}
	return true
}

// handleRoomUsers seeds peer links from the join snapshot: as the newly
// joined side we offer to every member already present. The complementary
// rule lives in handleUserJoined.
func (s *Session) handleRoomUsers(p *protocol.RoomUsers) {
	s.mu.Lock()
	selfID := s.selfID
	for _, u := range p.Users {
		if u.ID == selfID {
			continue
		}
		s.usernames[u.ID] = u.Username
		if _, ok := s.links[u.ID]; !ok {
			if _, err := s.createLinkLocked(u.ID, RoleOfferer); err != nil {
				s.logger.Error("create offerer link failed", "peer", u.ID, "err", err)
			}
		}
	}
	s.mu.Unlock()
	s.emit(Event{Kind: EventMembers})
}

// handleUserJoined records presence only. The newly joined peer initiates
// the offer, so starting one here would produce duplicate simultaneous
// offers.
func (s *Session) handleUserJoined(u *protocol.User) {
	s.mu.Lock()
	s.usernames[u.ID] = u.Username
	s.mu.Unlock()
	s.emit(Event{Kind: EventMembers, PeerID: u.ID})
}

func (s *Session) handleUserLeft(id string) {
	s.mu.Lock()
	delete(s.usernames, id)
	delete(s.speaking, id)
	delete(s.pendingCands, id)
	link := s.links[id]
	delete(s.links, id)
	sink := s.sinks[id]
	delete(s.sinks, id)
	s.mu.Unlock()

	if link != nil {
		link.close()
	}
	if sink != nil {
		sink.Close()
	}
	s.emit(Event{Kind: EventMembers, PeerID: id})
}

// handleRemoteOffer answers an incoming offer, creating the link in the
// answerer role when it does not exist yet, and flushes any candidates that
// arrived before the link did.
func (s *Session) handleRemoteOffer(from string, sdp json.RawMessage) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(sdp, &desc); err != nil {
		s.logger.Warn("malformed offer", "from", from, "err", err)
		return
	}

	s.mu.Lock()
	link, ok := s.links[from]
	if !ok {
		var err error
		link, err = s.createLinkLocked(from, RoleAnswerer)
		if err != nil {
			s.mu.Unlock()
			s.logger.Error("create answerer link failed", "peer", from, "err", err)
			return
		}
	}
	// Hand early-arrival candidates to the link; they flush with the
	// remote description below.
	for _, c := range s.pendingCands[from] {
		link.addCandidate(c)
	}
	delete(s.pendingCands, from)
	track := s.localTrack
	speaking := s.localSpeaking
	s.mu.Unlock()

	if err := link.setRemoteDescription(desc); err != nil {
		s.logger.Error("apply remote offer failed", "peer", from, "err", err)
		return
	}
	if speaking && track != nil && link.senderCount() == 0 {
		if err := link.attachTrack(track); err != nil {
			s.logger.Warn("attach track failed", "peer", from, "err", err)
		}
	}

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		s.logger.Error("create answer failed", "peer", from, "err", err)
		return
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		s.logger.Error("set local answer failed", "peer", from, "err", err)
		return
	}
	link.advance(LinkNew, LinkAnswerSent)
	// The answer carries the current senders, so any renegotiation deferred
	// during the exchange is already satisfied.
	link.takeDeferredRenegotiation()
	s.sendSignal(protocol.KindAnswer, from, link.pc.LocalDescription())
}

// handleRemoteAnswer applies an answer to an existing link; an answer for an
// unknown peer is logged and dropped.
func (s *Session) handleRemoteAnswer(from string, sdp json.RawMessage) {
	s.mu.Lock()
	link, ok := s.links[from]
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("answer for unknown peer", "from", from)
		return
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(sdp, &desc); err != nil {
		s.logger.Warn("malformed answer", "from", from, "err", err)
		return
	}
	if err := link.setRemoteDescription(desc); err != nil {
		s.logger.Error("apply remote answer failed", "peer", from, "err", err)
		return
	}
	if link.takeDeferredRenegotiation() {
		s.renegotiate(link)
	}
}

// handleRemoteCandidate adds a candidate to its link, or buffers it at the
// session level until a link for that peer exists.
func (s *Session) handleRemoteCandidate(from string, raw json.RawMessage) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &c); err != nil {
		s.logger.Warn("malformed candidate", "from", from, "err", err)
		return
	}

	s.mu.Lock()
	link, ok := s.links[from]
	if !ok {
		s.pendingCands[from] = append(s.pendingCands[from], c)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := link.addCandidate(c); err != nil {
		s.logger.Warn("add candidate failed", "peer", from, "err", err)
	}
}

// createLinkLocked builds a PeerLink and its sink. Caller holds s.mu.
func (s *Session) createLinkLocked(remoteID string, role Role) (*PeerLink, error) {
	pc, err := webrtc.NewPeerConnection(s.webrtcConfig())
	if err != nil {
		return nil, err
	}

	link := newPeerLink(remoteID, role, pc)
	sink := s.newSink(remoteID)
	if v, ok := s.peerVolumes[remoteID]; ok {
		sink.SetVolume(v)
	}
	sink.SetMuted(s.peerMuted[remoteID])
	s.links[remoteID] = link
	s.sinks[remoteID] = sink

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		raw, err := json.Marshal(init)
		if err != nil {
			return
		}
		s.sendRaw(protocol.KindICECandidate, remoteID, raw)
	})

	pc.OnNegotiationNeeded(func() {
		// Only the initial offer goes through here. An answerer link
		// negotiates through the incoming offer, and later track changes
		// renegotiate explicitly (see renegotiate).
		if link.Role() != RoleOfferer || link.State() != LinkNew {
			return
		}
		if pc.SignalingState() != webrtc.SignalingStateStable {
			return
		}
		s.sendOffer(link)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			link.setState(LinkConnected)
			s.emit(Event{Kind: EventLink, PeerID: remoteID})
		case webrtc.PeerConnectionStateFailed:
			// Left in its last negotiation state; Reconnect is the
			// recovery path.
			s.logger.Warn("peer connection failed", "peer", remoteID)
			s.emit(Event{Kind: EventNotice, PeerID: remoteID, Message: "connection failed"})
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			sink.Attach(track)
		}
	})

	// Always able to receive audio, even before anyone speaks. This also
	// guarantees the first offer carries an audio section.
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		delete(s.links, remoteID)
		delete(s.sinks, remoteID)
		return nil, err
	}

	if s.localSpeaking && s.localTrack != nil {
		if err := link.attachTrack(s.localTrack); err != nil {
			s.logger.Warn("attach track failed", "peer", remoteID, "err", err)
		}
	}

	return link, nil
}

// renegotiate runs a fresh offer round after a track change on an already
// negotiated link. pion does not re-fire OnNegotiationNeeded when AddTrack
// reuses the receive transceiver on a stable connection, so track changes
// never go through the callback.
func (s *Session) renegotiate(link *PeerLink) {
	state := link.State()
	if state == LinkNew || state == LinkClosed {
		return
	}
	if link.pc.SignalingState() != webrtc.SignalingStateStable {
		// An offer round is in flight; rerun once its answer lands.
		link.deferRenegotiation()
		return
	}
	s.sendOffer(link)
}

// sendOffer runs a full offer round toward one peer. Used for both initial
// negotiation and renegotiation after track changes.
func (s *Session) sendOffer(link *PeerLink) {
	offer, err := link.pc.CreateOffer(nil)
	if err != nil {
		s.logger.Error("create offer failed", "peer", link.remoteID, "err", err)
		return
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		s.logger.Error("set local offer failed", "peer", link.remoteID, "err", err)
		return
	}
	link.advance(LinkNew, LinkOfferSent)
	s.sendSignal(protocol.KindOffer, link.remoteID, link.pc.LocalDescription())
}

func (s *Session) sendSignal(kind protocol.Kind, target string, desc *webrtc.SessionDescription) {
	raw, err := json.Marshal(desc)
	if err != nil {
		s.logger.Error("encode sdp failed", "peer", target, "err", err)
		return
	}
	s.sendRaw(kind, target, raw)
}

func (s *Session) sendRaw(kind protocol.Kind, target string, body json.RawMessage) {
	env, err := protocol.NewEnvelope(kind, protocol.NewSignal(kind, target, body))
	if err != nil {
		s.logger.Error("encode signal failed", "kind", kind, "err", err)
		return
	}
	if err := s.transport.Send(env); err != nil {
		s.logger.Warn("send signal failed", "kind", kind, "peer", target, "err", err)
	}
}

// teardownLinks closes every link and sink and clears all per-room state.
// Volume and mute preferences survive.
func (s *Session) teardownLinks() {
	s.mu.Lock()
	links := s.links
	sinks := s.sinks
	s.links = make(map[string]*PeerLink)
	s.sinks = make(map[string]media.Sink)
	s.usernames = make(map[string]string)
	s.speaking = make(map[string]bool)
	s.pendingCands = make(map[string][]webrtc.ICECandidateInit)
	s.mu.Unlock()

	for _, link := range links {
		link.close()
	}
	for _, sink := range sinks {
		sink.Close()
	}
}

// emit never blocks: a stalled UI loses events rather than stalling
// dispatch.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Session) webrtcConfig() webrtc.Configuration {
	var servers []webrtc.ICEServer
	if s.cfg.STUNServer != "" {
		servers = append(servers, webrtc.ICEServer{URLs: s.cfg.GetSTUNServers()})
	}
	if turn := s.cfg.GetTURNServers(); turn != nil {
		username, password := s.cfg.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// DMRoom derives the deterministic direct-message room name for two users,
// matching the web client's convention: whitespace collapsed to underscores,
// names sorted, joined as dm-<a>-<b>.
func DMRoom(a, b string) string {
	names := []string{dmName(a), dmName(b)}
	sort.Strings(names)
	return "dm-" + strings.Join(names, "-")
}

// dmWhitespace matches runs of whitespace anywhere in a name, including the
// edges: "a " and "a" must land in different rooms on every client.
var dmWhitespace = regexp.MustCompile(`\s+`)

func dmName(name string) string {
	return dmWhitespace.ReplaceAllString(name, "_")
}
