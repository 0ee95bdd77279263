// Package sink consumes the remote media of a viewer session.
package sink

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	livelog "github.com/mossy-p/livecast/internal/logging"
)

// ErrRejected is returned by Attach when the sink refuses a track.
var ErrRejected = errors.New("sink: track rejected")

// Sink is where a viewer session attaches incoming tracks. Attach errors
// are reported to the user but never tear down the connection.
type Sink interface {
	Attach(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) error
}

// TrackStats is a snapshot of one incoming track
type TrackStats struct {
	Kind     string
	Codec    string
	Packets  uint64
	Bytes    uint64
	LastSeen time.Time
}

// StatsSink reads every attached track and counts what arrives.
type StatsSink struct {
	// Kinds limits accepted track kinds; empty accepts all.
	Kinds []webrtc.RTPCodecType

	LoggerFactory logging.LoggerFactory

	mu     sync.Mutex
	tracks map[string]*trackCounter
}

type trackCounter struct {
	kind     string
	codec    string
	packets  atomic.Uint64
	bytes    atomic.Uint64
	lastSeen atomic.Int64
}

// Attach starts reading track until it ends.
func (s *StatsSink) Attach(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) error {
	if track == nil {
		return ErrRejected
	}
	if !s.accepts(track.Kind()) {
		return ErrRejected
	}

	log := livelog.OrDefault(s.LoggerFactory).NewLogger("sink")
	c := &trackCounter{kind: track.Kind().String(), codec: track.Codec().MimeType}

	s.mu.Lock()
	if s.tracks == nil {
		s.tracks = make(map[string]*trackCounter)
	}
	s.tracks[track.ID()] = c
	s.mu.Unlock()

	log.Infof("attached %s track %s (%s)", c.kind, track.ID(), c.codec)
	go func() {
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				log.Debugf("track %s ended: %v", track.ID(), err)
				return
			}
			c.packets.Add(1)
			c.bytes.Add(uint64(len(pkt.Payload)))
			c.lastSeen.Store(time.Now().UnixNano())
		}
	}()
	return nil
}

func (s *StatsSink) accepts(kind webrtc.RTPCodecType) bool {
	if len(s.Kinds) == 0 {
		return true
	}
	for _, k := range s.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Stats returns a snapshot keyed by track id
func (s *StatsSink) Stats() map[string]TrackStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]TrackStats, len(s.tracks))
	for id, c := range s.tracks {
		st := TrackStats{
			Kind:    c.kind,
			Codec:   c.codec,
			Packets: c.packets.Load(),
			Bytes:   c.bytes.Load(),
		}
		if ns := c.lastSeen.Load(); ns > 0 {
			st.LastSeen = time.Unix(0, ns)
		}
		out[id] = st
	}
	return out
}

// Reset forgets every attached track. Used between watch attempts.
func (s *StatsSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = nil
}

// Func adapts a function to Sink.
type Func func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) error

func (f Func) Attach(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) error {
	return f(track, receiver)
}
