package peer

import (
	"sync"

	"github.com/mossy-p/livecast/internal/models"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	livelog "github.com/mossy-p/livecast/internal/logging"
)

// Role is the negotiation direction of a Link.
type Role int

const (
	// RoleOffer creates offers. The streamer holds one per viewer.
	RoleOffer Role = iota
	// RoleAnswer answers offers. The viewer holds exactly one.
	RoleAnswer
)

func (r Role) String() string {
	if r == RoleOffer {
		return "offer"
	}
	return "answer"
}

// Config configures a Link.
type Config struct {
	ViewerID string
	Role     Role
	Factory  Factory

	// Signal publishes offer, answer and ice-candidate messages for this link.
	Signal func(models.SignalMessage) error

	// OnStateChange is called on every transition reported by the
	// connection. It is not called for Close.
	OnStateChange func(State)

	// OnTrack receives remote media. Only meaningful for RoleAnswer.
	OnTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)

	LoggerFactory logging.LoggerFactory
}

// Link is one peer connection negotiated over a signal channel.
type Link struct {
	cfg  Config
	conn Connection
	log  logging.LeveledLogger

	// mu serializes remote description and candidate application so a
	// candidate can never reach the connection ahead of its description.
	mu      sync.Mutex
	state   State
	closed  bool
	buffer  CandidateBuffer
	senders []Sender
}

// New creates the underlying connection and wires its callbacks.
func New(cfg Config) (*Link, error) {
	if cfg.Factory == nil {
		return nil, ErrNoFactory
	}
	if cfg.Signal == nil {
		return nil, ErrNoSignal
	}

	conn, err := cfg.Factory()
	if err != nil {
		return nil, &NegotiationError{Op: "create connection", ViewerID: cfg.ViewerID, Err: err}
	}

	l := &Link{
		cfg:  cfg,
		conn: conn,
		log:  livelog.OrDefault(cfg.LoggerFactory).NewLogger("peer"),
	}

	conn.OnICECandidate(l.onLocalCandidate)
	conn.OnConnectionStateChange(l.onConnectionState)
	if cfg.OnTrack != nil {
		conn.OnTrack(cfg.OnTrack)
	}
	return l, nil
}

// ViewerID returns the viewer this link serves
func (l *Link) ViewerID() string {
	return l.cfg.ViewerID
}

// State returns the current lifecycle state
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Buffered returns the number of candidates waiting for a remote description
func (l *Link) Buffered() int {
	return l.buffer.Len()
}

// AddTracks attaches outgoing tracks.
func (l *Link) AddTracks(tracks []webrtc.TrackLocal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	for _, t := range tracks {
		s, err := l.conn.AddTrack(t)
		if err != nil {
			return &NegotiationError{Op: "add track", ViewerID: l.cfg.ViewerID, Err: err}
		}
		l.senders = append(l.senders, s)
	}
	return nil
}

// ReplaceTracks swaps outgoing tracks in place, matching by kind. Kinds
// with no existing sender are added; senders whose kind is absent from
// tracks stop sending. It reports whether a new offer is needed.
func (l *Link) ReplaceTracks(tracks []webrtc.TrackLocal) (renegotiate bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false, ErrClosed
	}

	used := make(map[Sender]bool, len(l.senders))
	for _, t := range tracks {
		var slot Sender
		for _, s := range l.senders {
			if used[s] {
				continue
			}
			if cur := s.Track(); cur == nil || cur.Kind() == t.Kind() {
				slot = s
				break
			}
		}

		if slot != nil {
			used[slot] = true
			if err := slot.ReplaceTrack(t); err != nil {
				return renegotiate, &NegotiationError{Op: "replace track", ViewerID: l.cfg.ViewerID, Err: err}
			}
			continue
		}

		s, err := l.conn.AddTrack(t)
		if err != nil {
			return renegotiate, &NegotiationError{Op: "add track", ViewerID: l.cfg.ViewerID, Err: err}
		}
		l.senders = append(l.senders, s)
		used[s] = true
		renegotiate = true
	}

	for _, s := range l.senders {
		if !used[s] && s.Track() != nil {
			if err := s.ReplaceTrack(nil); err != nil {
				l.log.Debugf("detach track for %s: %v", l.cfg.ViewerID, err)
			}
		}
	}
	return renegotiate, nil
}

// Offer creates an offer, applies it locally and sends it to the viewer.
// Calling it again on a live link renegotiates.
func (l *Link) Offer() error {
	if l.cfg.Role != RoleOffer {
		return ErrWrongRole
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	offer, err := l.conn.CreateOffer(nil)
	if err == nil {
		err = l.conn.SetLocalDescription(offer)
	}
	if err != nil {
		l.mu.Unlock()
		return &NegotiationError{Op: "create offer", ViewerID: l.cfg.ViewerID, Err: err}
	}
	l.setStateLocked(StateNegotiating)
	l.mu.Unlock()

	l.log.Debugf("sending offer to %s", l.cfg.ViewerID)
	if err := l.cfg.Signal(models.Offer{ViewerID: l.cfg.ViewerID, SDP: offer}); err != nil {
		return &NegotiationError{Op: "send offer", ViewerID: l.cfg.ViewerID, Err: err}
	}
	return nil
}

// HandleOffer applies a remote offer, flushes buffered candidates and
// replies with an answer. A later offer on the same link renegotiates.
func (l *Link) HandleOffer(offer webrtc.SessionDescription) error {
	if l.cfg.Role != RoleAnswer {
		return ErrWrongRole
	}
	if offer.SDP == "" {
		return &NegotiationError{Op: "apply offer", ViewerID: l.cfg.ViewerID, Err: ErrNoRemoteOffer}
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if err := l.applyRemoteLocked(offer); err != nil {
		l.mu.Unlock()
		return &NegotiationError{Op: "apply offer", ViewerID: l.cfg.ViewerID, Err: err}
	}
	answer, err := l.conn.CreateAnswer(nil)
	if err == nil {
		err = l.conn.SetLocalDescription(answer)
	}
	if err != nil {
		l.mu.Unlock()
		return &NegotiationError{Op: "create answer", ViewerID: l.cfg.ViewerID, Err: err}
	}
	l.setStateLocked(StateNegotiating)
	l.mu.Unlock()

	if err := l.cfg.Signal(models.Answer{ViewerID: l.cfg.ViewerID, SDP: answer}); err != nil {
		return &NegotiationError{Op: "send answer", ViewerID: l.cfg.ViewerID, Err: err}
	}
	return nil
}

// HandleAnswer applies the viewer's answer and flushes buffered candidates.
func (l *Link) HandleAnswer(answer webrtc.SessionDescription) error {
	if l.cfg.Role != RoleOffer {
		return ErrWrongRole
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if err := l.applyRemoteLocked(answer); err != nil {
		return &NegotiationError{Op: "apply answer", ViewerID: l.cfg.ViewerID, Err: err}
	}
	return nil
}

// AddCandidate applies a remote candidate, or buffers it while the
// connection has no remote description.
func (l *Link) AddCandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	if l.conn.RemoteDescription() == nil && l.buffer.Push(c) {
		return nil
	}
	if err := l.conn.AddICECandidate(c); err != nil {
		// A bad candidate is not fatal; ICE may still succeed on others.
		l.log.Debugf("add candidate for %s: %v", l.cfg.ViewerID, err)
	}
	return nil
}

// Close releases the connection. Safe to call repeatedly.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.state = StateClosed
	l.buffer.Reset()
	l.mu.Unlock()

	if err := l.conn.Close(); err != nil {
		l.log.Debugf("close connection for %s: %v", l.cfg.ViewerID, err)
	}
	return nil
}

// applyRemoteLocked sets the remote description then flushes the buffer.
func (l *Link) applyRemoteLocked(desc webrtc.SessionDescription) error {
	if err := l.conn.SetRemoteDescription(desc); err != nil {
		return err
	}
	for _, c := range l.buffer.Drain() {
		if err := l.conn.AddICECandidate(c); err != nil {
			l.log.Debugf("add buffered candidate for %s: %v", l.cfg.ViewerID, err)
		}
	}
	return nil
}

func (l *Link) onLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}

	msg := models.ICECandidate{ViewerID: l.cfg.ViewerID, Candidate: c.ToJSON()}
	if err := l.cfg.Signal(msg); err != nil {
		l.log.Debugf("send candidate for %s: %v", l.cfg.ViewerID, err)
	}
}

func (l *Link) onConnectionState(s webrtc.PeerConnectionState) {
	next := stateFromConnection(s)

	l.mu.Lock()
	if l.closed || next == StateNew || next == l.state {
		l.mu.Unlock()
		return
	}
	l.state = next
	l.mu.Unlock()

	l.log.Infof("link %s (%s) %s", l.cfg.ViewerID, l.cfg.Role, next)
	if l.cfg.OnStateChange != nil {
		l.cfg.OnStateChange(next)
	}
}

func (l *Link) setStateLocked(s State) {
	if l.state == StateNew {
		l.state = s
	}
}
