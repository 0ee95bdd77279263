package peer

import (
	"errors"
	"fmt"
)

var (
	ErrClosed        = errors.New("peer: link closed")
	ErrWrongRole     = errors.New("peer: operation not valid for this negotiation role")
	ErrNoFactory     = errors.New("peer: no connection factory")
	ErrNoSignal      = errors.New("peer: no signal function")
	ErrNoRemoteOffer = errors.New("peer: offer message without session description")
)

// NegotiationError reports a failed step of offer/answer negotiation.
// Owners treat it like a failed connection.
type NegotiationError struct {
	Op       string
	ViewerID string
	Err      error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("peer %s: %s: %v", e.ViewerID, e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}
