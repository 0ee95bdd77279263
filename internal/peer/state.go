package peer

import "github.com/pion/webrtc/v4"

// State is the lifecycle of one Link
type State int

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether owners should drop a link in this state.
// Disconnected counts: the recovery policy never waits for ICE to heal.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateFailed || s == StateClosed
}

func stateFromConnection(s webrtc.PeerConnectionState) State {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return StateNegotiating
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		return StateNew
	}
}
