package rtc

import (
	"errors"
	"testing"

	"github.com/dkeye/huddle/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func TestValidateSDP(t *testing.T) {
	require.True(t, errors.Is(ValidateSDP(""), core.ErrInvalidSDP))
	require.True(t, errors.Is(ValidateSDP("hello"), core.ErrInvalidSDP))

	api, err := NewAPI()
	require.NoError(t, err)
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer pc.Close()
	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	require.NoError(t, err)
	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)

	require.NoError(t, ValidateSDP(offer.SDP))
	n, err := AudioSections(offer.SDP)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
