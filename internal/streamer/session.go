// Package streamer fans one capture out to every viewer of a broadcast.
//
// A Session owns the capture handle, one signal channel on the streamer's
// topic and a map of viewerId to peer.Link. Each viewer-join creates a
// fresh link; links are dropped as soon as they reach a terminal state and
// the streamer never reconnects on a viewer's behalf.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mossy-p/livecast/internal/capture"
	"github.com/mossy-p/livecast/internal/directory"
	"github.com/mossy-p/livecast/internal/models"
	"github.com/mossy-p/livecast/internal/peer"
	"github.com/mossy-p/livecast/internal/signal"
	"github.com/pion/logging"

	livelog "github.com/mossy-p/livecast/internal/logging"
)

const stopTimeout = 5 * time.Second

// Config configures a Session.
type Config struct {
	Transport   signal.Transport
	Capture     capture.Source
	Constraints capture.Constraints
	PeerFactory peer.Factory

	// Directory, when set, is flagged live on start and cleared on stop.
	Directory directory.Writer

	HandshakeTimeout time.Duration

	// OnViewerChange reports each viewer link transition.
	OnViewerChange func(viewerID string, state peer.State)

	// OnSignalLost is called after a live broadcast was stopped because
	// its signaling transport went away.
	OnSignalLost func(err error)

	LoggerFactory logging.LoggerFactory
}

type viewerLink struct {
	link *peer.Link
	seq  uint64
}

// Session is one streamer's broadcast.
type Session struct {
	cfg Config
	lf  logging.LoggerFactory
	log logging.LeveledLogger

	mu          sync.Mutex
	live        bool
	streamerID  string
	channel     *signal.Channel
	handle      capture.Handle
	constraints capture.Constraints
	peers       map[string]*viewerLink
	seq         uint64
}

func New(cfg Config) *Session {
	lf := livelog.OrDefault(cfg.LoggerFactory)
	return &Session{
		cfg:         cfg,
		lf:          lf,
		log:         lf.NewLogger("streamer"),
		constraints: cfg.Constraints,
	}
}

// StartLive acquires capture, subscribes to the streamer's topic and
// flags the streamer live. Any previous broadcast is stopped first. On
// failure everything acquired so far is released.
func (s *Session) StartLive(ctx context.Context, streamerID string) error {
	if streamerID == "" {
		return ErrNoIdentity
	}
	if err := s.StopLive(ctx); err != nil {
		s.log.Warnf("stopping previous broadcast: %v", err)
	}

	s.mu.Lock()
	constraints := s.constraints
	s.mu.Unlock()

	handle, err := s.cfg.Capture.Acquire(ctx, constraints)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	var ch *signal.Channel
	ch = signal.New(s.cfg.Transport, streamerID, signal.Options{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		OnError:          func(err error) { s.onSignalLost(ch, err) },
		LoggerFactory:    s.lf,
	})
	ch.On(models.SignalTypeViewerJoin, func(m models.SignalMessage) { s.onViewerJoin(ch, m.(models.ViewerJoin)) })
	ch.On(models.SignalTypeAnswer, func(m models.SignalMessage) { s.onAnswer(ch, m.(models.Answer)) })
	ch.On(models.SignalTypeICECandidate, func(m models.SignalMessage) { s.onCandidate(ch, m.(models.ICECandidate)) })

	s.mu.Lock()
	s.streamerID = streamerID
	s.channel = ch
	s.handle = handle
	s.peers = make(map[string]*viewerLink)
	s.mu.Unlock()

	ch.Subscribe()
	if err := ch.Ready(ctx); err != nil {
		s.rollback(ch)
		return err
	}

	if s.cfg.Directory != nil {
		if err := s.cfg.Directory.SetLive(ctx, streamerID, true, time.Now()); err != nil {
			s.rollback(ch)
			return fmt.Errorf("flag live: %w", err)
		}
	}

	s.mu.Lock()
	if s.channel != ch {
		// stopped while starting
		s.mu.Unlock()
		if s.cfg.Directory != nil {
			if err := s.cfg.Directory.SetLive(ctx, streamerID, false, time.Time{}); err != nil {
				s.log.Warnf("clear live flag for %s: %v", streamerID, err)
			}
		}
		return ErrNotLive
	}
	s.live = true
	s.mu.Unlock()

	s.log.Infof("live on %s", ch.Topic())
	return nil
}

// StopLive tells viewers the broadcast is over and releases every link,
// the capture and the channel. Safe to call when not live.
func (s *Session) StopLive(ctx context.Context) error {
	s.mu.Lock()
	ch, handle, peers, id, wasLive := s.detachLocked()
	s.mu.Unlock()

	if ch == nil {
		return nil
	}

	if wasLive {
		if err := ch.Send(models.StreamEnded{}); err != nil {
			s.log.Debugf("announce stream-ended: %v", err)
		}
	}
	s.release(ch, handle, peers)

	if wasLive && s.cfg.Directory != nil {
		if err := s.cfg.Directory.SetLive(ctx, id, false, time.Time{}); err != nil {
			return fmt.Errorf("clear live flag: %w", err)
		}
	}
	s.log.Infof("stopped broadcast %s", ch.Topic())
	return nil
}

// onSignalLost ends the broadcast on ch once its transport is gone. A
// handshake failure is left to StartLive.
func (s *Session) onSignalLost(ch *signal.Channel, err error) {
	if !errors.Is(err, signal.ErrTransportLost) {
		return
	}
	s.mu.Lock()
	current := s.channel == ch
	s.mu.Unlock()
	if !current {
		return
	}

	s.log.Errorf("signaling lost, stopping broadcast: %v", err)
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if stopErr := s.StopLive(ctx); stopErr != nil {
		s.log.Warnf("stop after signaling loss: %v", stopErr)
	}
	if s.cfg.OnSignalLost != nil {
		s.cfg.OnSignalLost(err)
	}
}

// SwitchCapture acquires new capture and swaps it into every viewer link.
// Tracks of an existing kind are replaced in place; new kinds trigger a
// fresh offer. If acquisition fails the current capture stays live.
func (s *Session) SwitchCapture(ctx context.Context, c capture.Constraints) error {
	s.mu.Lock()
	live := s.live
	s.mu.Unlock()
	if !live {
		return ErrNotLive
	}

	next, err := s.cfg.Capture.Acquire(ctx, c)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		next.Stop()
		return ErrNotLive
	}
	prev := s.handle
	s.handle = next
	s.constraints = c
	links := make([]*viewerLink, 0, len(s.peers))
	for _, vl := range s.peers {
		links = append(links, vl)
	}
	s.mu.Unlock()

	for _, vl := range links {
		renegotiate, err := vl.link.ReplaceTracks(next.Tracks())
		if err != nil {
			s.log.Warnf("switch capture for %s: %v", vl.link.ViewerID(), err)
			s.evict(vl.link.ViewerID(), vl.seq)
			continue
		}
		if renegotiate {
			if err := vl.link.Offer(); err != nil {
				s.log.Warnf("renegotiate %s: %v", vl.link.ViewerID(), err)
				s.evict(vl.link.ViewerID(), vl.seq)
			}
		}
	}

	prev.Stop()
	s.log.Infof("switched capture for %d viewers", len(links))
	return nil
}

// Viewers returns the state of every viewer link
func (s *Session) Viewers() map[string]peer.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]peer.State, len(s.peers))
	for id, vl := range s.peers {
		out[id] = vl.link.State()
	}
	return out
}

func (s *Session) IsLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *Session) StreamerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamerID
}

func (s *Session) onViewerJoin(ch *signal.Channel, msg models.ViewerJoin) {
	id := msg.ViewerID

	s.mu.Lock()
	if s.channel != ch {
		s.mu.Unlock()
		return
	}
	stale := s.peers[id]
	delete(s.peers, id)
	handle := s.handle
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if stale != nil {
		s.log.Debugf("viewer %s joined again, closing previous link", id)
		stale.link.Close()
	}

	link, err := peer.New(peer.Config{
		ViewerID: id,
		Role:     peer.RoleOffer,
		Factory:  s.cfg.PeerFactory,
		Signal:   ch.Send,
		OnStateChange: func(st peer.State) {
			s.onLinkState(id, seq, st)
		},
		LoggerFactory: s.lf,
	})
	if err != nil {
		s.log.Warnf("create link for %s: %v", id, err)
		return
	}
	if err := link.AddTracks(handle.Tracks()); err != nil {
		s.log.Warnf("attach capture for %s: %v", id, err)
		link.Close()
		return
	}

	s.mu.Lock()
	if s.channel != ch {
		s.mu.Unlock()
		link.Close()
		return
	}
	s.peers[id] = &viewerLink{link: link, seq: seq}
	current := s.handle
	s.mu.Unlock()

	// capture was switched while the link was being built
	if current != handle {
		if _, err := link.ReplaceTracks(current.Tracks()); err != nil {
			s.log.Warnf("attach switched capture for %s: %v", id, err)
		}
	}

	s.log.Infof("viewer %s joined", id)
	if err := link.Offer(); err != nil {
		s.log.Warnf("offer to %s: %v", id, err)
		s.evict(id, seq)
	}
}

func (s *Session) onAnswer(ch *signal.Channel, msg models.Answer) {
	vl := s.lookup(ch, msg.ViewerID)
	if vl == nil {
		s.log.Debugf("ignoring answer for unknown viewer %s", msg.ViewerID)
		return
	}
	if err := vl.link.HandleAnswer(msg.SDP); err != nil {
		s.log.Warnf("answer from %s: %v", msg.ViewerID, err)
		s.evict(msg.ViewerID, vl.seq)
	}
}

func (s *Session) onCandidate(ch *signal.Channel, msg models.ICECandidate) {
	vl := s.lookup(ch, msg.ViewerID)
	if vl == nil {
		return
	}
	if err := vl.link.AddCandidate(msg.Candidate); err != nil {
		s.log.Debugf("candidate for %s: %v", msg.ViewerID, err)
	}
}

func (s *Session) onLinkState(id string, seq uint64, st peer.State) {
	if s.cfg.OnViewerChange != nil {
		s.cfg.OnViewerChange(id, st)
	}
	if st.Terminal() {
		s.evict(id, seq)
	}
}

func (s *Session) lookup(ch *signal.Channel, viewerID string) *viewerLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != ch {
		return nil
	}
	return s.peers[viewerID]
}

// evict removes viewerID's link if it is still the one numbered seq.
func (s *Session) evict(viewerID string, seq uint64) {
	s.mu.Lock()
	vl := s.peers[viewerID]
	if vl == nil || vl.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.peers, viewerID)
	s.mu.Unlock()

	vl.link.Close()
	s.log.Infof("viewer %s removed", viewerID)
}

func (s *Session) rollback(ch *signal.Channel) {
	s.mu.Lock()
	if s.channel != ch {
		s.mu.Unlock()
		return
	}
	_, handle, peers, _, _ := s.detachLocked()
	s.mu.Unlock()
	s.release(ch, handle, peers)
}

func (s *Session) detachLocked() (*signal.Channel, capture.Handle, map[string]*viewerLink, string, bool) {
	ch, handle, peers, id, live := s.channel, s.handle, s.peers, s.streamerID, s.live
	s.channel = nil
	s.handle = nil
	s.peers = nil
	s.live = false
	return ch, handle, peers, id, live
}

func (s *Session) release(ch *signal.Channel, handle capture.Handle, peers map[string]*viewerLink) {
	for _, vl := range peers {
		vl.link.Close()
	}
	if handle != nil {
		handle.Stop()
	}
	if ch != nil {
		ch.Close()
	}
}
