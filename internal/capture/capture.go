// Package capture produces the outgoing media tracks of a broadcast.
//
// A Source hands out a Handle per Acquire; the handle owns the tracks and
// the goroutines feeding them until Stop. FileSource plays IVF video and
// Ogg/Opus audio from disk in a loop, and falls back to Opus silence when
// audio is requested without a file.
package capture

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrDeviceUnavailable is returned when a requested input cannot be opened.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrNothingRequested is returned when constraints ask for no media.
	ErrNothingRequested = errors.New("capture: no audio or video requested")
)

// Constraints select the inputs of one capture.
type Constraints struct {
	Video bool
	Audio bool

	// DeviceID picks a video input; empty means the default.
	DeviceID string
}

// Source acquires capture handles.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (Handle, error)
}

// Handle is an acquired capture. Stop is idempotent.
type Handle interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

type handle struct {
	tracks []webrtc.TrackLocal
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (h *handle) Tracks() []webrtc.TrackLocal {
	return h.tracks
}

func (h *handle) Stop() {
	h.once.Do(func() {
		h.cancel()
		h.wg.Wait()
	})
}

func (h *handle) run(f func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		f()
	}()
}
