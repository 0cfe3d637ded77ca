package signal

import (
	"testing"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name string
		typ  string
		raw  string
		want core.Event
	}{
		{
			name: "peer offer",
			typ:  "peer_signal",
			raw:  `{"type":"peer_signal","from":"u1","signal":{"type":"offer","sdp":"v=0"}}`,
			want: core.PeerSignalEvent{From: "u1", Signal: core.PeerSignal{Type: core.SignalOffer, SDP: "v=0"}},
		},
		{
			name: "upgrade",
			typ:  "sfu_upgrade",
			raw:  `{"type":"sfu_upgrade","room":"r","session_id":"s1"}`,
			want: core.SFUUpgrade{RoomID: "r", SessionID: "s1"},
		},
		{
			name: "upgrade without session",
			typ:  "sfu_upgrade",
			raw:  `{"type":"sfu_upgrade","room":"r"}`,
			want: core.SFUUpgrade{RoomID: "r"},
		},
		{
			name: "downgrade",
			typ:  "sfu_downgrade",
			raw:  `{"type":"sfu_downgrade","room":"r"}`,
			want: core.SFUDowngrade{RoomID: "r"},
		},
		{
			name: "publish answer",
			typ:  "sfu_publish_answer",
			raw:  `{"type":"sfu_publish_answer","session_id":"s1","sdp":"v=0"}`,
			want: core.SFUPublishAnswer{SessionID: "s1", SDP: "v=0"},
		},
		{
			name: "subscribe offer",
			typ:  "sfu_subscribe_offer",
			raw:  `{"type":"sfu_subscribe_offer","sdp":"v=0","tracks":[{"track_name":"t1","user_name":"Ann"}]}`,
			want: core.SFUSubscribeOffer{SDP: "v=0", Tracks: []core.TrackDescriptor{{TrackName: "t1", UserName: "Ann"}}},
		},
		{
			name: "track added",
			typ:  "sfu_track_added",
			raw:  `{"type":"sfu_track_added","track_name":"t1","user_name":"Ann"}`,
			want: core.SFUTrackAdded{TrackName: "t1", UserName: "Ann"},
		},
		{
			name: "error",
			typ:  "error",
			raw:  `{"type":"error","code":"sfu_busy","message":"try later"}`,
			want: core.SignalingErrorEvent{Err: &core.SignalingError{Code: "sfu_busy", Message: "try later"}},
		},
		{
			name: "empty roster",
			typ:  "huddle_roster",
			raw:  `{"type":"huddle_roster","room":"r","participants":[]}`,
			want: core.RosterUpdate{Roster: domain.Roster{RoomID: "r"}},
		},
		{
			name: "chat is ignored",
			typ:  "chat_message",
			raw:  `{"type":"chat_message","text":"hi"}`,
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := decode(tc.typ, []byte(tc.raw))
			require.NoError(t, err)
			require.Equal(t, tc.want, ev)
		})
	}
}

func TestDecodeCandidate(t *testing.T) {
	ev, err := decode("peer_signal", []byte(
		`{"type":"peer_signal","from":"u1","signal":{"type":"candidate","candidate":{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}}}`))
	require.NoError(t, err)
	sig := ev.(core.PeerSignalEvent).Signal
	require.Equal(t, core.SignalCandidate, sig.Type)
	require.NotNil(t, sig.Candidate)
	require.Equal(t, "candidate:1", sig.Candidate.Candidate)
	require.Equal(t, "0", *sig.Candidate.SDPMid)
	require.Equal(t, uint16(0), *sig.Candidate.SDPMLineIndex)
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string][2]string{
		"roster without ids":     {"huddle_roster", `{"room":"r","participants":[{"display_name":"x"}]}`},
		"signal without sender":  {"peer_signal", `{"signal":{"type":"offer","sdp":"v=0"}}`},
		"offer without sdp":      {"peer_signal", `{"from":"u1","signal":{"type":"offer"}}`},
		"candidate without body": {"peer_signal", `{"from":"u1","signal":{"type":"candidate"}}`},
		"unknown signal":         {"peer_signal", `{"from":"u1","signal":{"type":"bye"}}`},
		"answer without sdp":     {"sfu_publish_answer", `{"session_id":"s"}`},
		"offer without sdp sfu":  {"sfu_subscribe_offer", `{"tracks":[]}`},
		"bad types":              {"sfu_upgrade", `{"room":5}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decode(tc[0], []byte(tc[1]))
			require.Error(t, err)
		})
	}
}
