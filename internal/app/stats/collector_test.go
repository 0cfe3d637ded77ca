package stats

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func TestCollector_KeepsBaselinePerKey(t *testing.T) {
	c := NewCollector()
	start := time.Unix(2000, 0)

	first, err := c.Sample("peer:2", report(1000, 1000, 0.02, 10, 0), start)
	require.NoError(t, err)
	require.Zero(t, first.BitrateInKbps)

	_, err = c.Sample("peer:3", report(0, 0, 0.02, 10, 0), start)
	require.NoError(t, err)

	second, err := c.Sample("peer:2", report(3500, 1000, 0.02, 10, 0), start.Add(2*time.Second))
	require.NoError(t, err)
	require.InDelta(t, 10, second.BitrateInKbps, 0.001)
	require.Len(t, c.All(), 2)

	c.Forget("peer:2")
	_, ok := c.Last("peer:2")
	require.False(t, ok)

	again, err := c.Sample("peer:2", report(9000, 1000, 0.02, 10, 0), start.Add(3*time.Second))
	require.NoError(t, err)
	require.Zero(t, again.BitrateInKbps)
}

func TestCollector_ErrorKeepsPreviousBaseline(t *testing.T) {
	c := NewCollector()
	start := time.Unix(2000, 0)
	_, err := c.Sample("sfu:publish", report(1000, 0, 0.01, 1, 0), start)
	require.NoError(t, err)

	_, err = c.Sample("sfu:publish", webrtc.StatsReport{}, start.Add(time.Second))
	require.ErrorIs(t, err, ErrNoSelectedPair)

	last, ok := c.Last("sfu:publish")
	require.True(t, ok)
	require.Equal(t, uint64(1000), last.BytesReceived)
}
