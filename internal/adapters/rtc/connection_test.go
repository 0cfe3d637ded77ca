package rtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/require"
)

func newVNetAPIs(t *testing.T) (*webrtc.API, *webrtc.API) {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	require.NoError(t, err)

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	require.NoError(t, err)
	require.NoError(t, router.AddNet(netA))

	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.3"}})
	require.NoError(t, err)
	require.NoError(t, router.AddNet(netB))

	require.NoError(t, router.Start())
	t.Cleanup(func() { _ = router.Stop() })

	apiA, err := NewAPI(WithNet(netA))
	require.NoError(t, err)
	apiB, err := NewAPI(WithNet(netB))
	require.NoError(t, err)
	return apiA, apiB
}

func newConn(t *testing.T, api *webrtc.API, label string) *Connection {
	t.Helper()
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	c := NewConnection(pc, label)
	t.Cleanup(c.Close)
	return c
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for ICE gathering")
	}
}

func TestConnectionNegotiatesAudioOverVNet(t *testing.T) {
	apiA, apiB := newVNetAPIs(t)
	a := newConn(t, apiA, "a")
	b := newConn(t, apiB, "b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracks := make(chan core.RemoteTrack, 1)
	b.OnTrack(func(_ context.Context, track core.RemoteTrack) {
		select {
		case tracks <- track:
		default:
		}
	})
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "mic", "alice")
	require.NoError(t, err)
	require.NoError(t, a.AddLocalTrack(local))

	_, err = a.CreateAndSetOffer()
	require.NoError(t, err)
	waitClosed(t, a.GatheringComplete())

	n, err := AudioSections(a.LocalDescription().SDP)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = b.ApplyOfferAndCreateAnswer(*a.LocalDescription())
	require.NoError(t, err)
	waitClosed(t, b.GatheringComplete())
	require.True(t, b.HasRemoteDescription())

	require.False(t, a.HasRemoteDescription())
	require.NoError(t, a.ApplyAnswer(*b.LocalDescription()))

	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = local.WriteSample(media.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond})
			}
		}
	}()

	require.Eventually(t, func() bool {
		return a.State() == webrtc.PeerConnectionStateConnected &&
			b.State() == webrtc.PeerConnectionStateConnected
	}, 15*time.Second, 20*time.Millisecond)

	select {
	case track := <-tracks:
		require.Equal(t, "mic", track.ID())
		require.Equal(t, "alice", track.StreamID())
		require.Equal(t, webrtc.RTPCodecTypeAudio, track.Kind())
		pkt, _, err := track.ReadRTP()
		require.NoError(t, err)
		require.NotEmpty(t, pkt.Payload)
	case <-time.After(10 * time.Second):
		t.Fatal("remote track never arrived")
	}

	require.NotEmpty(t, a.Stats())
}

func TestConnectionTricklesCandidates(t *testing.T) {
	apiA, apiB := newVNetAPIs(t)
	a := newConn(t, apiA, "a")
	b := newConn(t, apiB, "b")

	fromA := make(chan webrtc.ICECandidateInit, 16)
	a.OnICECandidate(func(ci webrtc.ICECandidateInit) { fromA <- ci })
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "mic", "alice")
	require.NoError(t, err)
	require.NoError(t, a.AddLocalTrack(local))

	offer, err := a.CreateAndSetOffer()
	require.NoError(t, err)

	var ci webrtc.ICECandidateInit
	select {
	case ci = <-fromA:
	case <-time.After(10 * time.Second):
		t.Fatal("no candidate gathered")
	}
	require.NotEmpty(t, ci.Candidate)

	_, err = b.ApplyOfferAndCreateAnswer(*offer)
	require.NoError(t, err)
	require.NoError(t, b.AddICECandidate(ci))
}

func TestApplyRejectsInvalidSDP(t *testing.T) {
	api, err := NewAPI()
	require.NoError(t, err)
	c := newConn(t, api, "x")

	err = c.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "garbage"})
	require.True(t, errors.Is(err, core.ErrInvalidSDP))
	require.False(t, c.HasRemoteDescription())

	_, err = c.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer})
	require.True(t, errors.Is(err, core.ErrInvalidSDP))
}

func TestCloseIsIdempotent(t *testing.T) {
	api, err := NewAPI()
	require.NoError(t, err)
	c := newConn(t, api, "x")

	c.OnStateChange(func(webrtc.PeerConnectionState) {})
	require.NoError(t, c.Start(context.Background()))

	require.False(t, c.IsClosed())
	c.Close()
	c.Close()
	require.True(t, c.IsClosed())
	require.Equal(t, webrtc.PeerConnectionStateClosed, c.State())
}
