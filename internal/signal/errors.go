package signal

import "errors"

var (
	// ErrHandshake is returned when the subscribe handshake fails or stalls.
	ErrHandshake = errors.New("signal: handshake failed")

	// ErrClosed is returned by operations on a closed channel or connection.
	ErrClosed = errors.New("signal: channel closed")

	// ErrTransportLost is reported when a subscribed channel's transport goes away.
	ErrTransportLost = errors.New("signal: transport lost")

	// ErrNoTopic is returned when joining without a streamer identity.
	ErrNoTopic = errors.New("signal: empty topic")
)
