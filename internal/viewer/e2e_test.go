package viewer_test

import (
	"context"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/livecast/internal/capture"
	"github.com/mossy-p/livecast/internal/directory"
	"github.com/mossy-p/livecast/internal/logging"
	"github.com/mossy-p/livecast/internal/peer"
	"github.com/mossy-p/livecast/internal/signal"
	"github.com/mossy-p/livecast/internal/sink"
	"github.com/mossy-p/livecast/internal/streamer"
	"github.com/mossy-p/livecast/internal/viewer"
)

// TestLive_EndToEnd runs a real broadcast over loopback: a streamer sending
// Opus silence and a viewer that must receive RTP from it.
func TestLive_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("real peer connections")
	}
	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	lf := logging.Discard()
	factory, err := peer.NewFactory(peer.FactoryOptions{
		IncludeLoopback: true,
		NetworkTypes:    []webrtc.NetworkType{webrtc.NetworkTypeUDP4},
		DisableMDNS:     true,
		LoggerFactory:   lf,
	})
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}

	hub := signal.NewMemoryHub()
	dir := directory.NewMemory(0)

	s := streamer.New(streamer.Config{
		Transport:     hub,
		Capture:       &capture.FileSource{LoggerFactory: lf},
		Constraints:   capture.Constraints{Audio: true},
		PeerFactory:   factory,
		Directory:     dir,
		LoggerFactory: lf,
	})
	if err := s.StartLive(context.Background(), "s1"); err != nil {
		t.Fatalf("StartLive: %v", err)
	}
	defer s.StopLive(context.Background())
	if !dir.IsLive("s1") {
		t.Fatal("directory flag not set")
	}

	stats := &sink.StatsSink{LoggerFactory: lf}
	connected := make(chan struct{})
	v := viewer.New(viewer.Config{
		Transport:    hub,
		PeerFactory:  factory,
		Sink:         stats,
		OfferTimeout: 5 * time.Second,
		OnStatus: func(st viewer.Status) {
			if st.State == viewer.StateConnected {
				select {
				case <-connected:
				default:
					close(connected)
				}
			}
		},
		LoggerFactory: lf,
	})
	defer v.CloseViewer()

	if err := v.OpenForStreamer("s1"); err != nil {
		t.Fatalf("OpenForStreamer: %v", err)
	}

	select {
	case <-connected:
	case <-time.After(20 * time.Second):
		t.Fatalf("viewer never connected, status %+v", v.Status())
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, st := range stats.Stats() {
			if st.Kind == "audio" && st.Packets > 0 {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("no audio packets received: %+v", stats.Stats())
}
