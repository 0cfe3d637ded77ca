package core

import (
	"github.com/dkeye/huddle/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Frame is a raw signaling payload.
type Frame []byte

// SignalType tags a peer-to-peer negotiation message.
type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
)

// PeerSignal is relayed by the server between two huddle members.
type PeerSignal struct {
	Type      SignalType
	SDP       string
	Candidate *webrtc.ICECandidateInit
}

// TrackDescriptor labels a track the SFU offers to forward.
type TrackDescriptor struct {
	TrackName string
	UserName  string
}

// Event is any inbound huddle message. The concrete types below are the complete set.
type Event interface{ isEvent() }

type RosterUpdate struct {
	Roster domain.Roster
}

type PeerSignalEvent struct {
	From   domain.UserID
	Signal PeerSignal
}

type SFUUpgrade struct {
	RoomID    domain.RoomID
	SessionID string
}

type SFUDowngrade struct {
	RoomID domain.RoomID
}

type SFUPublishAnswer struct {
	SessionID string
	SDP       string
}

type SFUSubscribeOffer struct {
	SDP    string
	Tracks []TrackDescriptor
}

type SFURenegotiateComplete struct{}

type SFUTrackAdded struct {
	TrackName string
	UserName  string
}

type SignalingErrorEvent struct {
	Err *SignalingError
}

func (RosterUpdate) isEvent()           {}
func (PeerSignalEvent) isEvent()        {}
func (SFUUpgrade) isEvent()             {}
func (SFUDowngrade) isEvent()           {}
func (SFUPublishAnswer) isEvent()       {}
func (SFUSubscribeOffer) isEvent()      {}
func (SFURenegotiateComplete) isEvent() {}
func (SFUTrackAdded) isEvent()          {}
func (SignalingErrorEvent) isEvent()    {}

// Subscription is a handle returned by SignalPort.Subscribe.
// Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// SignalPort is the huddle's view of the shared signaling channel.
// Owned by the adapter; the huddle never closes it.
type SignalPort interface {
	Subscribe(fn func(Event)) Subscription

	SendJoin(room domain.RoomID) error
	SendLeave() error
	SendPeerSignal(to domain.UserID, sig PeerSignal) error
	SendSFUPublish(trackKind, sdp string) error
	SendSFUSubscribe() error
	SendSFURenegotiateAnswer(sdp string) error
}
