package models

import "github.com/pion/webrtc/v4"

// SignalType is the event tag of a message broadcast on a live topic
type SignalType string

const (
	SignalTypeViewerJoin   SignalType = "viewer-join"
	SignalTypeOffer        SignalType = "offer"
	SignalTypeAnswer       SignalType = "answer"
	SignalTypeICECandidate SignalType = "ice-candidate"
	SignalTypeStreamEnded  SignalType = "stream-ended"
)

// Valid reports whether t is one of the protocol's event tags.
func (t SignalType) Valid() bool {
	switch t {
	case SignalTypeViewerJoin, SignalTypeOffer, SignalTypeAnswer, SignalTypeICECandidate, SignalTypeStreamEnded:
		return true
	}
	return false
}

// SignalMessage is the closed set of messages exchanged on a live topic:
// ViewerJoin, Offer, Answer, ICECandidate and StreamEnded.
type SignalMessage interface {
	Type() SignalType
	validate() error
}

// Addressed is implemented by every message that targets one viewer.
// The topic is shared by all viewers, so recipients filter on Viewer().
type Addressed interface {
	SignalMessage
	Viewer() string
}

// ViewerJoin announces a viewer and asks the streamer for an offer
type ViewerJoin struct {
	ViewerID string `json:"viewerId"`
}

// Offer carries the streamer's session description for one viewer
type Offer struct {
	ViewerID string                    `json:"viewerId"`
	SDP      webrtc.SessionDescription `json:"offer"`
}

// Answer carries the viewer's session description back to the streamer
type Answer struct {
	ViewerID string                    `json:"viewerId"`
	SDP      webrtc.SessionDescription `json:"answer"`
}

// ICECandidate carries one trickled candidate in either direction
type ICECandidate struct {
	ViewerID  string                  `json:"viewerId"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// StreamEnded tells every viewer the broadcast is over
type StreamEnded struct{}

func (ViewerJoin) Type() SignalType   { return SignalTypeViewerJoin }
func (Offer) Type() SignalType        { return SignalTypeOffer }
func (Answer) Type() SignalType       { return SignalTypeAnswer }
func (ICECandidate) Type() SignalType { return SignalTypeICECandidate }
func (StreamEnded) Type() SignalType  { return SignalTypeStreamEnded }

func (m ViewerJoin) Viewer() string   { return m.ViewerID }
func (m Offer) Viewer() string        { return m.ViewerID }
func (m Answer) Viewer() string       { return m.ViewerID }
func (m ICECandidate) Viewer() string { return m.ViewerID }

func (m ViewerJoin) validate() error {
	if m.ViewerID == "" {
		return ErrMissingViewerID
	}
	return nil
}

func (m Offer) validate() error {
	return validateDescription(m.ViewerID, m.SDP, webrtc.SDPTypeOffer)
}

func (m Answer) validate() error {
	return validateDescription(m.ViewerID, m.SDP, webrtc.SDPTypeAnswer)
}

func (m ICECandidate) validate() error {
	if m.ViewerID == "" {
		return ErrMissingViewerID
	}
	if m.Candidate.Candidate == "" {
		return ErrMissingCandidate
	}
	return nil
}

func (StreamEnded) validate() error { return nil }

func validateDescription(viewerID string, desc webrtc.SessionDescription, want webrtc.SDPType) error {
	if viewerID == "" {
		return ErrMissingViewerID
	}
	if desc.SDP == "" {
		return ErrMissingSDP
	}
	if desc.Type != want {
		return ErrSDPTypeMismatch
	}
	return nil
}
