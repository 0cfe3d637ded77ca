package core

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is the read side of an incoming media track.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	// Callbacks must be registered before Start.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	State() webrtc.PeerConnectionState
	// AddLocalTrack attaches a local track. The track itself stays owned by the caller.
	AddLocalTrack(track webrtc.TrackLocal) error
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	HasRemoteDescription() bool
	// LocalDescription returns the current local SDP including gathered candidates.
	LocalDescription() *webrtc.SessionDescription
	// GatheringComplete is closed once ICE gathering finished for the current local description.
	GatheringComplete() <-chan struct{}
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track RemoteTrack))
	// OnStateChange sets a callback for peer connection state transitions.
	OnStateChange(func(webrtc.PeerConnectionState))
	Stats() webrtc.StatsReport
}

// ConnectionFactory builds unstarted connections; label is used for logging only.
type ConnectionFactory interface {
	NewConnection(ctx context.Context, label string) (MediaConnection, error)
}

// ICEProvider supplies STUN/TURN servers, queried once per connection.
type ICEProvider interface {
	ICEServers(ctx context.Context) ([]webrtc.ICEServer, error)
}

// LocalMedia is the captured audio track set.
// Connections attach its tracks but only the owner may Stop it.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

// MediaSource acquires the microphone. Implementations return an error
// wrapping ErrMediaAccessDenied when no device is usable.
type MediaSource interface {
	Acquire(ctx context.Context) (LocalMedia, error)
}

// IsTerminal reports whether a connection state ends a link.
func IsTerminal(s webrtc.PeerConnectionState) bool {
	switch s {
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		return true
	}
	return false
}
