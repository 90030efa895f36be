package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Sink renders one remote peer's audio and carries that peer's volume and
// mute state. The session owns one sink per peer link and closes it when the
// link goes away.
type Sink interface {
	Attach(track *webrtc.TrackRemote)
	SetVolume(level float64)
	SetMuted(muted bool)
	Volume() float64
	Muted() bool
	Close() error
}

// DrainSink is the headless sink: it keeps the inbound RTP stream flowing
// and tracks volume/mute state for the UI without producing sound. Playback
// sinks implement the same interface.
type DrainSink struct {
	mu     sync.Mutex
	volume float64
	muted  bool
	done   chan struct{}
	closed bool
}

func NewDrainSink() *DrainSink {
	return &DrainSink{
		volume: 1.0,
		done:   make(chan struct{}),
	}
}

// Attach drains the track until it ends or the sink is closed. The read loop
// exits when the owning peer connection closes the track.
func (s *DrainSink) Attach(track *webrtc.TrackRemote) {
	go func() {
		for {
			select {
			case <-s.done:
				return
			default:
			}
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
		}
	}()
}

// SetVolume clamps level to [0, 1].
func (s *DrainSink) SetVolume(level float64) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	s.mu.Lock()
	s.volume = level
	s.mu.Unlock()
}

func (s *DrainSink) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *DrainSink) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *DrainSink) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *DrainSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}
