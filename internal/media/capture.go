package media

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/webrtc/v4"

	// Register the default microphone driver.
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)

// MTU for the packetized microphone stream.
const rtpMTU = 1200

// ErrCaptureUnavailable wraps every capture failure (no device, no
// permission). Callers degrade to receive-only mode on it.
var ErrCaptureUnavailable = errors.New("media capture unavailable")

// Capture acquires the local microphone. Acquisition is lazy and idempotent:
// every call after the first returns the same track. There is one capture
// per session, shared across all peer links.
type Capture interface {
	AudioTrack() (webrtc.TrackLocal, error)
	Close() error
}

// Microphone captures audio through pion/mediadevices with an Opus encoder.
//
// mediadevices tracks bind against webrtc/v3, so the track is never handed
// to the peer connection directly: its packetized output is pumped into a
// v4 TrackLocalStaticRTP instead.
type Microphone struct {
	mu      sync.Mutex
	mdTrack mediadevices.Track
	reader  mediadevices.RTPReadCloser
	track   *webrtc.TrackLocalStaticRTP
	done    chan struct{}
}

func NewMicrophone() *Microphone {
	return &Microphone{}
}

// AudioTrack opens the microphone on first use and returns its Opus track.
func (m *Microphone) AudioTrack() (webrtc.TrackLocal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.track != nil {
		return m.track, nil
	}

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("%w: opus params: %v", ErrCaptureUnavailable, err)
	}
	selector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {},
		Codec: selector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: no audio track", ErrCaptureUnavailable)
	}
	mdTrack := tracks[0]

	reader, err := mdTrack.NewRTPReader(webrtc.MimeTypeOpus, rand.Uint32(), rtpMTU)
	if err != nil {
		mdTrack.Close()
		return nil, fmt.Errorf("%w: rtp reader: %v", ErrCaptureUnavailable, err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "walkie-talkie")
	if err != nil {
		reader.Close()
		mdTrack.Close()
		return nil, fmt.Errorf("%w: local track: %v", ErrCaptureUnavailable, err)
	}

	done := make(chan struct{})
	go pumpRTP(reader, track, done)

	m.mdTrack = mdTrack
	m.reader = reader
	m.track = track
	m.done = done
	return m.track, nil
}

// pumpRTP moves packets from the encoder into the outbound track until the
// reader fails or the microphone closes. Write errors mean no peer is bound
// yet and are dropped.
func pumpRTP(reader mediadevices.RTPReadCloser, track *webrtc.TrackLocalStaticRTP, done chan struct{}) {
	buf := make([]byte, rtpMTU)
	for {
		select {
		case <-done:
			return
		default:
		}

		pkts, release, err := reader.Read()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			n, err := pkt.MarshalTo(buf)
			if err != nil {
				continue
			}
			track.Write(buf[:n])
		}
		release()
	}
}

// Close releases the microphone. A later AudioTrack reopens it.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.track == nil {
		return nil
	}
	close(m.done)
	m.reader.Close()
	m.mdTrack.Close()
	m.mdTrack = nil
	m.reader = nil
	m.track = nil
	m.done = nil
	return nil
}
