package viewer

import (
	"errors"
	"fmt"
)

var (
	ErrNoStreamer = errors.New("viewer: empty streamer identity")

	// ErrOfferTimeout is the failure recorded when no offer arrives in time.
	ErrOfferTimeout = errors.New("viewer: no offer received")

	// ErrReconnectExhausted marks the terminal error state.
	ErrReconnectExhausted = errors.New("viewer: reconnect attempts exhausted")
)

// State is the viewer session lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingOffer
	StateNegotiating
	StateConnected
	StateReconnecting
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingOffer:
		return "awaiting-offer"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is a snapshot reported on every transition.
type Status struct {
	State      State
	StreamerID string
	ViewerID   string

	// Attempt counts consecutive failures since the last connection.
	Attempt int

	// Reason is a human-readable explanation of the last failure, or of a
	// media attach problem while connected.
	Reason string

	// Err is set in StateError.
	Err error
}
