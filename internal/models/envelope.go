package models

import (
	"encoding/json"
	"fmt"
)

const (
	// EnvelopeTypeBroadcast marks a signaling message on a live topic.
	EnvelopeTypeBroadcast = "broadcast"

	// EnvelopeTypeSystem marks control frames sent by the WebSocket bridge.
	EnvelopeTypeSystem = "system"

	// SystemEventSubscribed is sent by the bridge once its topic subscription is confirmed.
	SystemEventSubscribed = "subscribed"

	// SystemEventError is sent by the bridge when it cannot serve the topic.
	SystemEventError = "error"
)

// Envelope is the wire frame for every message on a live topic
type Envelope struct {
	Type    string          `json:"type"`
	Event   SignalType      `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	From    string          `json:"from,omitempty"`
}

// SystemFrame is a bridge control frame
type SystemFrame struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Error string `json:"error,omitempty"`
}

// Encode wraps msg in a broadcast envelope stamped with the sender id.
func Encode(msg SignalMessage, from string) ([]byte, error) {
	if msg == nil {
		return nil, ErrInvalidEnvelope
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msg.Type(), err)
	}

	return json.Marshal(Envelope{
		Type:    EnvelopeTypeBroadcast,
		Event:   msg.Type(),
		Payload: payload,
		From:    from,
	})
}

// Decode parses and validates a broadcast envelope. Unknown events and
// payloads that do not carry the fields their tag requires are rejected.
func Decode(data []byte) (*Envelope, SignalMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Type != EnvelopeTypeBroadcast {
		return nil, nil, fmt.Errorf("%w: type %q", ErrInvalidEnvelope, env.Type)
	}

	var msg SignalMessage
	switch env.Event {
	case SignalTypeViewerJoin:
		msg = &ViewerJoin{}
	case SignalTypeOffer:
		msg = &Offer{}
	case SignalTypeAnswer:
		msg = &Answer{}
	case SignalTypeICECandidate:
		msg = &ICECandidate{}
	case SignalTypeStreamEnded:
		return &env, StreamEnded{}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if len(env.Payload) == 0 {
		return nil, nil, fmt.Errorf("%w: %s without payload", ErrInvalidEnvelope, env.Event)
	}
	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidEnvelope, env.Event, err)
	}

	// Handlers receive values, never pointers into the decoder.
	switch m := msg.(type) {
	case *ViewerJoin:
		msg = *m
	case *Offer:
		msg = *m
	case *Answer:
		msg = *m
	case *ICECandidate:
		msg = *m
	}
	if err := msg.validate(); err != nil {
		return nil, nil, err
	}
	return &env, msg, nil
}

// DecodeSystem parses a bridge control frame. ok is false when data is not one.
func DecodeSystem(data []byte) (frame SystemFrame, ok bool) {
	if err := json.Unmarshal(data, &frame); err != nil {
		return SystemFrame{}, false
	}
	return frame, frame.Type == EnvelopeTypeSystem
}
