package streamer

import "errors"

var (
	// ErrCaptureUnavailable wraps capture acquisition failures. StartLive
	// leaves nothing running when it returns this.
	ErrCaptureUnavailable = errors.New("streamer: capture unavailable")

	ErrNotLive    = errors.New("streamer: not live")
	ErrNoIdentity = errors.New("streamer: empty streamer identity")
)
