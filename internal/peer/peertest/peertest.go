// Package peertest provides a scripted peer.Connection for engine tests.
// It performs no networking; tests drive connection state and local
// candidates by hand.
package peertest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mossy-p/livecast/internal/peer"
	"github.com/pion/webrtc/v4"
)

var ErrInjected = errors.New("peertest: injected failure")

// Conn is a fake connection. Its fields are safe to read through the
// accessor methods while callbacks run.
type Conn struct {
	mu sync.Mutex

	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	senders    []*Sender
	closed     bool
	violations int
	offers     int

	onCandidate func(*webrtc.ICECandidate)
	onState     func(webrtc.PeerConnectionState)
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)

	// FailSetRemote makes SetRemoteDescription fail.
	FailSetRemote bool
	// FailCreateOffer makes CreateOffer fail.
	FailCreateOffer bool
}

var _ peer.Connection = (*Conn)(nil)

func (c *Conn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailCreateOffer {
		return webrtc.SessionDescription{}, ErrInjected
	}
	c.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", c.offers)}, nil
}

func (c *Conn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return webrtc.SessionDescription{}, errors.New("peertest: answer without remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-to-" + c.remote.SDP}, nil
}

func (c *Conn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = &desc
	return nil
}

func (c *Conn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailSetRemote {
		return ErrInjected
	}
	c.remote = &desc
	return nil
}

func (c *Conn) RemoteDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// AddICECandidate records c. Adding without a remote description counts
// as a violation.
func (c *Conn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		c.violations++
		return errors.New("peertest: candidate before remote description")
	}
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *Conn) AddTrack(track webrtc.TrackLocal) (peer.Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &Sender{track: track}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *Conn) OnICECandidate(f func(*webrtc.ICECandidate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = f
}

func (c *Conn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = f
}

func (c *Conn) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = f
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// SetState reports a connection state change, as ICE/DTLS would.
func (c *Conn) SetState(s webrtc.PeerConnectionState) {
	c.mu.Lock()
	f := c.onState
	c.mu.Unlock()
	if f != nil {
		f(s)
	}
}

// EmitCandidate reports a locally gathered host candidate.
func (c *Conn) EmitCandidate(address string, port uint16) {
	c.mu.Lock()
	f := c.onCandidate
	c.mu.Unlock()
	if f == nil {
		return
	}
	f(&webrtc.ICECandidate{
		Foundation: "1",
		Priority:   2130706431,
		Address:    address,
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       port,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	})
}

// Candidates returns the candidate strings applied, in order
func (c *Conn) Candidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.candidates))
	for i, cand := range c.candidates {
		out[i] = cand.Candidate
	}
	return out
}

func (c *Conn) Remote() *webrtc.SessionDescription {
	return c.RemoteDescription()
}

func (c *Conn) Local() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// Violations counts candidates added before any remote description
func (c *Conn) Violations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.violations
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Senders() []*Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Sender(nil), c.senders...)
}

// Offers counts offers created
func (c *Conn) Offers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers
}

// Sender is a fake outgoing track slot
type Sender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *Sender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	return nil
}

func (s *Sender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// Factory hands out fake connections and remembers them in creation order.
type Factory struct {
	mu    sync.Mutex
	conns []*Conn

	// Configure, when set, adjusts each connection before it is returned.
	Configure func(*Conn)
	// Err makes New fail.
	Err error
}

// New satisfies peer.Factory.
func (f *Factory) New() (peer.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	c := &Conn{}
	if f.Configure != nil {
		f.Configure(c)
	}
	f.conns = append(f.conns, c)
	return c, nil
}

// Conns returns every connection created so far
func (f *Factory) Conns() []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Conn(nil), f.conns...)
}

// Last returns the most recent connection, or nil
func (f *Factory) Last() *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}
