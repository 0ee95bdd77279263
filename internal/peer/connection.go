package peer

import (
	"github.com/pion/webrtc/v4"
)

// Connection is the subset of *webrtc.PeerConnection a Link drives.
type Connection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (Sender, error)
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

// Sender is one outgoing track slot. *webrtc.RTPSender satisfies it.
type Sender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
	Track() webrtc.TrackLocal
}

// Factory creates one fresh connection per Link.
type Factory func() (Connection, error)

type pionConnection struct {
	*webrtc.PeerConnection
}

// Wrap adapts a pion peer connection to Connection.
func Wrap(pc *webrtc.PeerConnection) Connection {
	return pionConnection{pc}
}

func (c pionConnection) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	sender, err := c.PeerConnection.AddTrack(track)
	if err != nil {
		return nil, err
	}

	// Read incoming RTCP so interceptors (NACK, reports) keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return sender, nil
}
