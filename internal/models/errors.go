package models

import "errors"

// Decoding errors. A message failing any of these checks is dropped at the
// channel boundary and never reaches a session handler.
var (
	ErrInvalidEnvelope  = errors.New("models: invalid envelope")
	ErrUnknownEvent     = errors.New("models: unknown event")
	ErrMissingViewerID  = errors.New("models: missing viewerId")
	ErrMissingSDP       = errors.New("models: missing session description")
	ErrSDPTypeMismatch  = errors.New("models: session description type does not match event")
	ErrMissingCandidate = errors.New("models: missing ICE candidate")
)
