package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/pion/webrtc/v4"
)

const (
	typePing = "ping"
	typePong = "pong"

	typeHuddleJoin           = "huddle_join"
	typeHuddleLeave          = "huddle_leave"
	typePeerSignal           = "peer_signal"
	typeSFUPublish           = "sfu_publish"
	typeSFUSubscribe         = "sfu_subscribe"
	typeSFURenegotiateAnswer = "sfu_renegotiate_answer"

	typeHuddleRoster           = "huddle_roster"
	typeSFUUpgrade             = "sfu_upgrade"
	typeSFUDowngrade           = "sfu_downgrade"
	typeSFUPublishAnswer       = "sfu_publish_answer"
	typeSFUSubscribeOffer      = "sfu_subscribe_offer"
	typeSFURenegotiateComplete = "sfu_renegotiate_complete"
	typeSFUTrackAdded          = "sfu_track_added"
	typeError                  = "error"
)

type envelope struct {
	Type string `json:"type"`
}

type joinMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

type signalPayload struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

type peerSignalOut struct {
	Type   string        `json:"type"`
	To     string        `json:"to"`
	Signal signalPayload `json:"signal"`
}

type sfuPublishMsg struct {
	Type      string `json:"type"`
	TrackKind string `json:"track_kind"`
	SDP       string `json:"sdp"`
}

type sdpMsg struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type participantMsg struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type rosterMsg struct {
	Room         string           `json:"room"`
	Participants []participantMsg `json:"participants"`
}

type peerSignalIn struct {
	From   string        `json:"from"`
	Signal signalPayload `json:"signal"`
}

type sfuUpgradeMsg struct {
	Room      string `json:"room"`
	SessionID string `json:"session_id"`
}

type publishAnswerMsg struct {
	SessionID string `json:"session_id"`
	SDP       string `json:"sdp"`
}

type trackMsg struct {
	TrackName string `json:"track_name"`
	UserName  string `json:"user_name"`
}

type subscribeOfferMsg struct {
	SDP    string     `json:"sdp"`
	Tracks []trackMsg `json:"tracks"`
}

type errorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errMissingField = errors.New("missing field")

// decode turns an inbound frame into a huddle event.
// Types the huddle does not handle return a nil event and no error.
func decode(typ string, data []byte) (core.Event, error) {
	switch typ {
	case typeHuddleRoster:
		var m rosterMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		r := domain.Roster{RoomID: domain.RoomID(m.Room)}
		for _, p := range m.Participants {
			if p.ID == "" {
				return nil, fmt.Errorf("participant id: %w", errMissingField)
			}
			r.Participants = append(r.Participants, domain.Participant{
				ID:          domain.UserID(p.ID),
				DisplayName: p.DisplayName,
			})
		}
		return core.RosterUpdate{Roster: r}, nil

	case typePeerSignal:
		var m peerSignalIn
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.From == "" {
			return nil, fmt.Errorf("from: %w", errMissingField)
		}
		sig, err := decodeSignal(m.Signal)
		if err != nil {
			return nil, err
		}
		return core.PeerSignalEvent{From: domain.UserID(m.From), Signal: sig}, nil

	case typeSFUUpgrade:
		var m sfuUpgradeMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return core.SFUUpgrade{RoomID: domain.RoomID(m.Room), SessionID: m.SessionID}, nil

	case typeSFUDowngrade:
		var m sfuUpgradeMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return core.SFUDowngrade{RoomID: domain.RoomID(m.Room)}, nil

	case typeSFUPublishAnswer:
		var m publishAnswerMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.SDP == "" {
			return nil, fmt.Errorf("sdp: %w", errMissingField)
		}
		return core.SFUPublishAnswer{SessionID: m.SessionID, SDP: m.SDP}, nil

	case typeSFUSubscribeOffer:
		var m subscribeOfferMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.SDP == "" {
			return nil, fmt.Errorf("sdp: %w", errMissingField)
		}
		ev := core.SFUSubscribeOffer{SDP: m.SDP}
		for _, t := range m.Tracks {
			ev.Tracks = append(ev.Tracks, core.TrackDescriptor{TrackName: t.TrackName, UserName: t.UserName})
		}
		return ev, nil

	case typeSFURenegotiateComplete:
		return core.SFURenegotiateComplete{}, nil

	case typeSFUTrackAdded:
		var m trackMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return core.SFUTrackAdded{TrackName: m.TrackName, UserName: m.UserName}, nil

	case typeError:
		var m errorMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return core.SignalingErrorEvent{Err: &core.SignalingError{Code: m.Code, Message: m.Message}}, nil
	}
	return nil, nil
}

func decodeSignal(p signalPayload) (core.PeerSignal, error) {
	sig := core.PeerSignal{Type: core.SignalType(p.Type), SDP: p.SDP}
	switch sig.Type {
	case core.SignalOffer, core.SignalAnswer:
		if p.SDP == "" {
			return sig, fmt.Errorf("signal sdp: %w", errMissingField)
		}
	case core.SignalCandidate:
		if p.Candidate == nil {
			return sig, fmt.Errorf("signal candidate: %w", errMissingField)
		}
		ci := *p.Candidate
		sig.Candidate = &ci
	default:
		return sig, fmt.Errorf("unknown signal type %q", p.Type)
	}
	return sig, nil
}
