// Package viewer drives the watching side of a broadcast.
//
// A Session announces itself on the streamer's topic, answers the
// streamer's offer with a single peer.Link and hands remote tracks to a
// sink. Any failure tears the attempt down completely and, within a bounded
// number of consecutive failures, starts a fresh one after a fixed delay.
package viewer

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/mossy-p/livecast/internal/models"
	"github.com/mossy-p/livecast/internal/peer"
	"github.com/mossy-p/livecast/internal/signal"
	"github.com/mossy-p/livecast/internal/sink"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	livelog "github.com/mossy-p/livecast/internal/logging"
)

const (
	defaultOfferTimeout   = 3 * time.Second
	defaultReconnectDelay = time.Second
	defaultMaxAttempts    = 3
)

// Config configures a Session.
type Config struct {
	Transport   signal.Transport
	PeerFactory peer.Factory
	Sink        sink.Sink

	// Identity returns the viewer id for a watch. Defaults to anon-<uuid>.
	Identity func() string

	// OfferTimeout bounds the wait for an offer after the join is announced.
	OfferTimeout time.Duration

	// ReconnectDelay separates a failure from the next attempt.
	ReconnectDelay time.Duration

	// MaxAttempts is the number of consecutive failed attempts after which
	// the session stops retrying and reports StateError.
	MaxAttempts int

	HandshakeTimeout time.Duration

	// OnStatus is called after every transition, outside the session lock.
	OnStatus func(Status)

	LoggerFactory logging.LoggerFactory
}

// Session watches one streamer at a time.
type Session struct {
	cfg Config
	lf  logging.LoggerFactory
	log logging.LeveledLogger

	mu      sync.Mutex
	gen     uint64
	status  Status
	channel *signal.Channel
	link    *peer.Link
	guard   *time.Timer
	retry   *time.Timer
	policy  backoff.BackOff
}

func New(cfg Config) *Session {
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = defaultOfferTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Identity == nil {
		cfg.Identity = AnonymousID
	}

	lf := livelog.OrDefault(cfg.LoggerFactory)
	return &Session{
		cfg: cfg,
		lf:  lf,
		log: lf.NewLogger("viewer"),
	}
}

// AnonymousID returns a fresh identity for a viewer without an account
func AnonymousID() string {
	return "anon-" + uuid.NewString()
}

// Status returns the latest snapshot
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// OpenForStreamer supersedes any current watch and starts watching
// streamerID. The viewer id is chosen once here and reused by retries.
func (s *Session) OpenForStreamer(streamerID string) error {
	if streamerID == "" {
		return ErrNoStreamer
	}

	var fx effects
	s.mu.Lock()
	s.gen++
	s.teardownLocked(&fx)
	s.policy = newPolicy(s.cfg.ReconnectDelay, s.cfg.MaxAttempts)
	s.status = Status{StreamerID: streamerID, ViewerID: s.cfg.Identity()}
	s.connectLocked(s.gen, &fx)
	s.mu.Unlock()

	fx.run(s)
	return nil
}

// CloseViewer stops watching. Safe to call repeatedly.
func (s *Session) CloseViewer() {
	var fx effects
	s.mu.Lock()
	s.gen++
	s.teardownLocked(&fx)
	if s.status.State != StateIdle && s.status.State != StateClosed {
		s.setLocked(&fx, StateClosed, "closed by viewer", nil)
	}
	s.mu.Unlock()

	fx.run(s)
}

// newPolicy allows maxAttempts-1 retries at a constant delay.
func newPolicy(delay time.Duration, maxAttempts int) backoff.BackOff {
	if maxAttempts <= 1 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(maxAttempts-1))
}

// connectLocked opens a fresh channel and link for generation gen.
func (s *Session) connectLocked(gen uint64, fx *effects) {
	streamerID, viewerID := s.status.StreamerID, s.status.ViewerID

	ch := signal.New(s.cfg.Transport, streamerID, signal.Options{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		OnReady:          func() { s.onReady(gen) },
		OnError:          func(err error) { s.fail(gen, "signaling unavailable", err) },
		LoggerFactory:    s.lf,
	})
	ch.On(models.SignalTypeOffer, func(m models.SignalMessage) { s.onOffer(gen, m.(models.Offer)) })
	ch.On(models.SignalTypeICECandidate, func(m models.SignalMessage) { s.onCandidate(gen, m.(models.ICECandidate)) })
	ch.On(models.SignalTypeStreamEnded, func(models.SignalMessage) { s.onStreamEnded(gen) })

	link, err := peer.New(peer.Config{
		ViewerID:      viewerID,
		Role:          peer.RoleAnswer,
		Factory:       s.cfg.PeerFactory,
		Signal:        ch.Send,
		OnStateChange: func(st peer.State) { s.onLinkState(gen, st) },
		OnTrack: func(t *webrtc.TrackRemote, r *webrtc.RTPReceiver) {
			s.onTrack(gen, t, r)
		},
		LoggerFactory: s.lf,
	})
	if err != nil {
		ch.Close()
		s.failLocked(fx, "cannot create connection", err)
		return
	}

	s.channel = ch
	s.link = link
	s.setLocked(fx, StateConnecting, "", nil)

	// queued until the subscription is confirmed
	if err := ch.Send(models.ViewerJoin{ViewerID: viewerID}); err != nil {
		s.log.Debugf("queue viewer-join: %v", err)
	}
	ch.Subscribe()
}

func (s *Session) onReady(gen uint64) {
	var fx effects
	s.mu.Lock()
	if gen != s.gen || s.status.State != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.setLocked(&fx, StateAwaitingOffer, "", nil)
	s.guard = time.AfterFunc(s.cfg.OfferTimeout, func() {
		s.fail(gen, fmt.Sprintf("no offer within %s", s.cfg.OfferTimeout), ErrOfferTimeout)
	})
	s.mu.Unlock()

	fx.run(s)
}

func (s *Session) onOffer(gen uint64, msg models.Offer) {
	var fx effects
	s.mu.Lock()
	if gen != s.gen || msg.ViewerID != s.status.ViewerID || s.link == nil {
		s.mu.Unlock()
		return
	}
	link := s.link
	s.stopGuardLocked()
	if s.status.State != StateConnected {
		s.setLocked(&fx, StateNegotiating, "", nil)
	}
	s.mu.Unlock()
	fx.run(s)

	if err := link.HandleOffer(msg.SDP); err != nil {
		s.fail(gen, "offer rejected", err)
	}
}

func (s *Session) onCandidate(gen uint64, msg models.ICECandidate) {
	s.mu.Lock()
	if gen != s.gen || msg.ViewerID != s.status.ViewerID || s.link == nil {
		s.mu.Unlock()
		return
	}
	link := s.link
	s.mu.Unlock()

	if err := link.AddCandidate(msg.Candidate); err != nil {
		s.log.Debugf("candidate: %v", err)
	}
}

func (s *Session) onStreamEnded(gen uint64) {
	var fx effects
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.teardownLocked(&fx)
	s.setLocked(&fx, StateClosed, "stream ended", nil)
	s.mu.Unlock()

	fx.run(s)
}

func (s *Session) onLinkState(gen uint64, st peer.State) {
	switch st {
	case peer.StateConnected:
		var fx effects
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.stopGuardLocked()
		s.policy.Reset()
		s.status.Attempt = 0
		s.setLocked(&fx, StateConnected, "", nil)
		s.mu.Unlock()
		fx.run(s)

	case peer.StateDisconnected, peer.StateFailed, peer.StateClosed:
		s.fail(gen, "connection "+st.String(), nil)
	}
}

func (s *Session) onTrack(gen uint64, t *webrtc.TrackRemote, r *webrtc.RTPReceiver) {
	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if stale || s.cfg.Sink == nil {
		return
	}

	err := s.cfg.Sink.Attach(t, r)
	if err == nil {
		return
	}
	s.log.Warnf("attach media: %v", err)

	// the link stays up; the failure is only reported
	var fx effects
	s.mu.Lock()
	if gen == s.gen {
		s.setLocked(&fx, s.status.State, "media could not be played: "+err.Error(), nil)
	}
	s.mu.Unlock()
	fx.run(s)
}

// fail ends attempt gen and schedules the next one, or gives up.
func (s *Session) fail(gen uint64, reason string, err error) {
	var fx effects
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.teardownLocked(&fx)
	s.failLocked(&fx, reason, err)
	s.mu.Unlock()

	fx.run(s)
}

func (s *Session) failLocked(fx *effects, reason string, err error) {
	if err != nil {
		reason = fmt.Sprintf("%s: %v", reason, err)
	}
	s.status.Attempt++

	delay := s.policy.NextBackOff()
	if delay == backoff.Stop {
		s.log.Errorf("giving up on %s after %d attempts: %s", s.status.StreamerID, s.status.Attempt, reason)
		s.setLocked(fx, StateError, reason, fmt.Errorf("%w after %d attempts: %s", ErrReconnectExhausted, s.status.Attempt, reason))
		return
	}

	gen := s.gen
	s.log.Warnf("attempt %d on %s failed (%s), retrying in %s", s.status.Attempt, s.status.StreamerID, reason, delay)
	s.setLocked(fx, StateReconnecting, reason, nil)
	s.retry = time.AfterFunc(delay, func() { s.reconnect(gen) })
}

func (s *Session) reconnect(gen uint64) {
	var fx effects
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.retry = nil
	// A retry is a new connection attempt and announces itself under a
	// fresh viewer id.
	s.status.ViewerID = s.cfg.Identity()
	s.connectLocked(gen, &fx)
	s.mu.Unlock()

	fx.run(s)
}

func (s *Session) stopGuardLocked() {
	if s.guard != nil {
		s.guard.Stop()
		s.guard = nil
	}
}

// teardownLocked cancels timers and hands the channel and link to fx
// for closing outside the lock.
func (s *Session) teardownLocked(fx *effects) {
	s.stopGuardLocked()
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.link != nil {
		fx.links = append(fx.links, s.link)
		s.link = nil
	}
	if s.channel != nil {
		fx.channels = append(fx.channels, s.channel)
		s.channel = nil
	}
}

func (s *Session) setLocked(fx *effects, st State, reason string, err error) {
	s.status.State = st
	s.status.Reason = reason
	s.status.Err = err
	fx.statuses = append(fx.statuses, s.status)
	if st != StateReconnecting && st != StateError {
		s.log.Debugf("%s -> %s", s.status.StreamerID, st)
	}
}

// effects are applied after the session lock is released.
type effects struct {
	links    []*peer.Link
	channels []*signal.Channel
	statuses []Status
}

func (fx *effects) run(s *Session) {
	for _, l := range fx.links {
		l.Close()
	}
	for _, c := range fx.channels {
		c.Close()
	}
	if s.cfg.OnStatus != nil {
		for _, st := range fx.statuses {
			s.cfg.OnStatus(st)
		}
	}
}
