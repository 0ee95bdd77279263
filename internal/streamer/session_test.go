package streamer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/livecast/internal/capture"
	"github.com/mossy-p/livecast/internal/directory"
	"github.com/mossy-p/livecast/internal/logging"
	"github.com/mossy-p/livecast/internal/models"
	"github.com/mossy-p/livecast/internal/peer"
	"github.com/mossy-p/livecast/internal/peer/peertest"
	"github.com/mossy-p/livecast/internal/signal"
	"github.com/pion/webrtc/v4"

	livelog "github.com/mossy-p/livecast/internal/logging"
)

type fakeHandle struct {
	tracks  []webrtc.TrackLocal
	mu      sync.Mutex
	stopped int
}

func (h *fakeHandle) Tracks() []webrtc.TrackLocal { return h.tracks }

func (h *fakeHandle) Stop() {
	h.mu.Lock()
	h.stopped++
	h.mu.Unlock()
}

func (h *fakeHandle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped > 0
}

type fakeSource struct {
	mu      sync.Mutex
	handles []*fakeHandle
	err     error
}

func (s *fakeSource) Acquire(_ context.Context, c capture.Constraints) (capture.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	h := &fakeHandle{}
	if c.Video {
		track, _ := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", c.DeviceID)
		h.tracks = append(h.tracks, track)
	}
	if c.Audio {
		track, _ := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", c.DeviceID)
		h.tracks = append(h.tracks, track)
	}
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeSource) handle(i int) *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[i]
}

type harness struct {
	hub     *signal.MemoryHub
	dir     *directory.Memory
	src     *fakeSource
	peers   *peertest.Factory
	session *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		hub:   signal.NewMemoryHub(),
		dir:   directory.NewMemory(0),
		src:   &fakeSource{},
		peers: &peertest.Factory{},
	}
	h.session = New(Config{
		Transport:     h.hub,
		Directory:     h.dir,
		Capture:       h.src,
		Constraints:   capture.Constraints{Video: true, Audio: true},
		PeerFactory:   h.peers.New,
		LoggerFactory: logging.Discard(),
	})
	t.Cleanup(func() { h.session.StopLive(context.Background()) })
	return h
}

// remoteViewer is the viewer end of the topic, driven by hand.
type remoteViewer struct {
	ch   *signal.Channel
	mu   sync.Mutex
	msgs []models.SignalMessage
}

func joinTopic(t *testing.T, hub *signal.MemoryHub, streamerID string) *remoteViewer {
	t.Helper()
	v := &remoteViewer{}
	v.ch = signal.Open(hub, streamerID, signal.Options{LoggerFactory: logging.Discard()})
	for _, typ := range []models.SignalType{models.SignalTypeOffer, models.SignalTypeICECandidate, models.SignalTypeStreamEnded} {
		v.ch.On(typ, v.record)
	}
	if err := v.ch.Ready(context.Background()); err != nil {
		t.Fatalf("viewer Ready: %v", err)
	}
	t.Cleanup(func() { v.ch.Close() })
	return v
}

func (v *remoteViewer) record(msg models.SignalMessage) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.msgs = append(v.msgs, msg)
}

func (v *remoteViewer) offers(viewerID string) []models.Offer {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []models.Offer
	for _, m := range v.msgs {
		if o, ok := m.(models.Offer); ok && o.ViewerID == viewerID {
			out = append(out, o)
		}
	}
	return out
}

func (v *remoteViewer) ended() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, m := range v.msgs {
		if m.Type() == models.SignalTypeStreamEnded {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startLive(t *testing.T, h *harness) {
	t.Helper()
	if err := h.session.StartLive(context.Background(), "s1"); err != nil {
		t.Fatalf("StartLive: %v", err)
	}
}

func TestSession_JoinOfferAnswerConnected(t *testing.T) {
	h := newHarness(t)
	startLive(t, h)
	if !h.dir.IsLive("s1") {
		t.Fatal("directory not flagged live")
	}

	v := joinTopic(t, h.hub, "s1")
	v.ch.Send(models.ViewerJoin{ViewerID: "v1"})

	waitFor(t, "offer for v1", func() bool { return len(v.offers("v1")) == 1 })
	conn := h.peers.Last()
	if n := len(conn.Senders()); n != 2 {
		t.Errorf("link has %d senders, want every capture track", n)
	}

	v.ch.Send(models.Answer{ViewerID: "v1", SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "sdpB"}})
	waitFor(t, "answer applied", func() bool { return conn.Remote() != nil })

	conn.SetState(webrtc.PeerConnectionStateConnected)

	viewers := h.session.Viewers()
	if len(viewers) != 1 || viewers["v1"] != peer.StateConnected {
		t.Errorf("Viewers = %v", viewers)
	}
}

func TestSession_CandidatesBufferedUntilAnswer(t *testing.T) {
	h := newHarness(t)
	startLive(t, h)
	v := joinTopic(t, h.hub, "s1")

	v.ch.Send(models.ViewerJoin{ViewerID: "v1"})
	waitFor(t, "offer", func() bool { return len(v.offers("v1")) == 1 })
	conn := h.peers.Last()

	v.ch.Send(models.ICECandidate{ViewerID: "v1", Candidate: webrtc.ICECandidateInit{Candidate: "early"}})
	v.ch.Send(models.Answer{ViewerID: "v1", SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "sdpB"}})

	waitFor(t, "buffered candidate applied", func() bool { return len(conn.Candidates()) == 1 })
	if conn.Violations() != 0 {
		t.Errorf("violations = %d", conn.Violations())
	}
}

func TestSession_RejoinSupersedesLink(t *testing.T) {
	h := newHarness(t)
	startLive(t, h)
	v := joinTopic(t, h.hub, "s1")

	v.ch.Send(models.ViewerJoin{ViewerID: "v1"})
	waitFor(t, "first offer", func() bool { return len(v.offers("v1")) == 1 })
	v.ch.Send(models.ViewerJoin{ViewerID: "v1"})
	waitFor(t, "second offer", func() bool { return len(v.offers("v1")) == 2 })

	conns := h.peers.Conns()
	if len(conns) != 2 {
		t.Fatalf("created %d connections", len(conns))
	}
	if !conns[0].Closed() {
		t.Error("superseded link left open")
	}
	if conns[1].Closed() {
		t.Error("current link closed")
	}
	if n := len(h.session.Viewers()); n != 1 {
		t.Errorf("Viewers has %d entries", n)
	}

	// a late terminal state from the superseded link must not evict the new one
	conns[0].SetState(webrtc.PeerConnectionStateFailed)
	if _, ok := h.session.Viewers()["v1"]; !ok {
		t.Error("stale link state evicted the current link")
	}
}

func TestSession_TerminalStateEvictsOnlyThatViewer(t *testing.T) {
	h := newHarness(t)
	startLive(t, h)
	v := joinTopic(t, h.hub, "s1")

	v.ch.Send(models.ViewerJoin{ViewerID: "v1"})
	v.ch.Send(models.ViewerJoin{ViewerID: "v2"})
	waitFor(t, "two viewers", func() bool { return len(h.session.Viewers()) == 2 })

	v1Conn := h.peers.Conns()[0]
	v1Conn.SetState(webrtc.PeerConnectionStateDisconnected)

	viewers := h.session.Viewers()
	if _, ok := viewers["v1"]; ok {
		t.Error("disconnected viewer kept")
	}
	if _, ok := viewers["v2"]; !ok {
		t.Error("unrelated viewer evicted")
	}
	if !v1Conn.Closed() {
		t.Error("evicted link not closed")
	}
}

func TestSession_IgnoresUnknownViewer(t *testing.T) {
	h := newHarness(t)
	startLive(t, h)
	v := joinTopic(t, h.hub, "s1")

	v.ch.Send(models.ViewerJoin{ViewerID: "v1"})
	waitFor(t, "offer", func() bool { return len(v.offers("v1")) == 1 })
	conn := h.peers.Last()

	v.ch.Send(models.Answer{ViewerID: "ghost", SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"}})
	v.ch.Send(models.ICECandidate{ViewerID: "ghost", Candidate: webrtc.ICECandidateInit{Candidate: "c"}})
	v.ch.Send(models.ViewerJoin{ViewerID: "v2"})
	waitFor(t, "v2 offer", func() bool { return len(v.offers("v2")) == 1 })

	if conn.Remote() != nil || len(conn.Candidates()) != 0 {
		t.Error("message for unknown viewer reached v1's link")
	}
	if n := len(h.session.Viewers()); n != 2 {
		t.Errorf("Viewers = %v", h.session.Viewers())
	}
}

func TestSession_StartLiveCaptureFailure(t *testing.T) {
	h := newHarness(t)
	h.src.err = errors.New("permission denied")

	err := h.session.StartLive(context.Background(), "s1")
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Fatalf("StartLive = %v, want ErrCaptureUnavailable", err)
	}
	if h.session.IsLive() || h.dir.IsLive("s1") {
		t.Error("partial broadcast left running")
	}
	if h.hub.Subscribers("live-s1") != 0 {
		t.Error("channel opened despite capture failure")
	}
}

func TestSession_StartLiveHandshakeFailure(t *testing.T) {
	h := newHarness(t)
	h.hub.FailJoins(errors.New("broker down"))

	err := h.session.StartLive(context.Background(), "s1")
	if !errors.Is(err, signal.ErrHandshake) {
		t.Fatalf("StartLive = %v, want ErrHandshake", err)
	}
	if !h.src.handle(0).Stopped() {
		t.Error("capture not released on rollback")
	}
	if h.dir.IsLive("s1") {
		t.Error("directory flagged despite failure")
	}
}

func TestSession_StartLiveDirectoryFailure(t *testing.T) {
	h := newHarness(t)
	h.dir.Fail(errors.New("db down"))

	if err := h.session.StartLive(context.Background(), "s1"); err == nil {
		t.Fatal("StartLive succeeded without directory")
	}
	if !h.src.handle(0).Stopped() || h.hub.Subscribers("live-s1") != 0 {
		t.Error("rollback incomplete")
	}
}

func TestSession_StopLive(t *testing.T) {
	h := newHarness(t)
	if err := h.session.StopLive(context.Background()); err != nil {
		t.Fatalf("StopLive before start: %v", err)
	}

	startLive(t, h)
	v := joinTopic(t, h.hub, "s1")
	v.ch.Send(models.ViewerJoin{ViewerID: "v1"})
	waitFor(t, "offer", func() bool { return len(v.offers("v1")) == 1 })

	if err := h.session.StopLive(context.Background()); err != nil {
		t.Fatalf("StopLive: %v", err)
	}
	waitFor(t, "stream-ended", v.ended)

	if !h.peers.Last().Closed() {
		t.Error("link left open")
	}
	if !h.src.handle(0).Stopped() {
		t.Error("capture left running")
	}
	if h.dir.IsLive("s1") {
		t.Error("directory still live")
	}
	if h.hub.Subscribers("live-s1") != 1 {
		t.Error("streamer still subscribed")
	}
	if err := h.session.StopLive(context.Background()); err != nil {
		t.Errorf("second StopLive: %v", err)
	}
}

func TestSession_RestartStopsPrevious(t *testing.T) {
	h := newHarness(t)
	startLive(t, h)
	startLive(t, h)

	if !h.src.handle(0).Stopped() {
		t.Error("first capture not stopped on restart")
	}
	if h.hub.Subscribers("live-s1") != 1 {
		t.Errorf("subscribers = %d", h.hub.Subscribers("live-s1"))
	}
}

func TestSession_SwitchCapture(t *testing.T) {
	h := newHarness(t)
	if err := h.session.SwitchCapture(context.Background(), capture.Constraints{Video: true}); !errors.Is(err, ErrNotLive) {
		t.Errorf("SwitchCapture before start = %v", err)
	}

	startLive(t, h)
	v := joinTopic(t, h.hub, "s1")
	v.ch.Send(models.ViewerJoin{ViewerID: "v1"})
	waitFor(t, "offer", func() bool { return len(v.offers("v1")) == 1 })

	err := h.session.SwitchCapture(context.Background(), capture.Constraints{Video: true, Audio: true, DeviceID: "rear"})
	if err != nil {
		t.Fatalf("SwitchCapture: %v", err)
	}

	next := h.src.handle(1)
	for i, s := range h.peers.Last().Senders() {
		if s.Track() != next.tracks[i] {
			t.Errorf("sender %d not switched", i)
		}
	}
	if !h.src.handle(0).Stopped() {
		t.Error("previous capture not stopped")
	}
	if n := len(v.offers("v1")); n != 1 {
		t.Errorf("same-kind switch sent %d offers, want no renegotiation", n)
	}

	h.src.mu.Lock()
	h.src.err = errors.New("busy")
	h.src.mu.Unlock()
	if err := h.session.SwitchCapture(context.Background(), capture.Constraints{Video: true}); !errors.Is(err, ErrCaptureUnavailable) {
		t.Errorf("failed switch = %v", err)
	}
	if next.Stopped() {
		t.Error("failed switch stopped the live capture")
	}
}

func TestSession_SwitchAddingKindRenegotiates(t *testing.T) {
	h := newHarness(t)
	h.session = New(Config{
		Transport:     h.hub,
		Capture:       h.src,
		Constraints:   capture.Constraints{Video: true},
		PeerFactory:   h.peers.New,
		LoggerFactory: logging.Discard(),
	})
	startLive(t, h)
	defer h.session.StopLive(context.Background())

	v := joinTopic(t, h.hub, "s1")
	v.ch.Send(models.ViewerJoin{ViewerID: "v1"})
	waitFor(t, "offer", func() bool { return len(v.offers("v1")) == 1 })

	if err := h.session.SwitchCapture(context.Background(), capture.Constraints{Video: true, Audio: true}); err != nil {
		t.Fatalf("SwitchCapture: %v", err)
	}
	waitFor(t, "renegotiation offer", func() bool { return len(v.offers("v1")) == 2 })
}

func TestSession_SignalLossStopsBroadcast(t *testing.T) {
	h := newHarness(t)
	lost := make(chan error, 1)
	h.session.cfg.OnSignalLost = func(err error) { lost <- err }
	startLive(t, h)

	h.hub.Drop("live-s1")

	select {
	case err := <-lost:
		if !errors.Is(err, signal.ErrTransportLost) {
			t.Errorf("OnSignalLost(%v)", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("signal loss not reported")
	}
	if h.session.IsLive() {
		t.Error("still live after signal loss")
	}
	if h.dir.IsLive("s1") {
		t.Error("directory still live after signal loss")
	}
	if !h.src.handle(0).Stopped() {
		t.Error("capture left running")
	}
	if err := h.session.SwitchCapture(context.Background(), capture.Constraints{Audio: true}); !errors.Is(err, ErrNotLive) {
		t.Errorf("SwitchCapture after loss = %v", err)
	}
}

// stopOnFlag stops the session from inside the directory write that
// flags it live, and fails the clearing write that follows.
type stopOnFlag struct {
	session *Session
	mu      sync.Mutex
	clears  int
}

func (d *stopOnFlag) SetLive(ctx context.Context, _ string, live bool, _ time.Time) error {
	if live {
		return d.session.StopLive(ctx)
	}
	d.mu.Lock()
	d.clears++
	d.mu.Unlock()
	return errors.New("db down")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSession_StoppedWhileStartingLogsClearFailure(t *testing.T) {
	var out syncBuffer
	dir := &stopOnFlag{}
	s := New(Config{
		Transport:     signal.NewMemoryHub(),
		Directory:     dir,
		Capture:       &fakeSource{},
		Constraints:   capture.Constraints{Audio: true},
		PeerFactory:   (&peertest.Factory{}).New,
		LoggerFactory: livelog.NewFactory("warn", &out),
	})
	dir.session = s

	if err := s.StartLive(context.Background(), "s1"); !errors.Is(err, ErrNotLive) {
		t.Fatalf("StartLive = %v, want ErrNotLive", err)
	}
	dir.mu.Lock()
	clears := dir.clears
	dir.mu.Unlock()
	if clears != 1 {
		t.Errorf("clearing writes = %d, want 1", clears)
	}
	if !strings.Contains(out.String(), "clear live flag for s1: db down") {
		t.Errorf("clear failure not logged: %q", out.String())
	}
}
