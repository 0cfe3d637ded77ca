package sfu

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/core/coretest"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type queue struct {
	mu  sync.Mutex
	fns []func()
}

func (q *queue) Post(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fns = append(q.fns, fn)
	return true
}

func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}

func (q *queue) Drain() {
	for {
		q.mu.Lock()
		if len(q.fns) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.fns[0]
		q.fns = q.fns[1:]
		q.mu.Unlock()
		fn()
	}
}

type remote struct {
	source, label string
}

type harness struct {
	m      *Manager
	q      *queue
	port   *coretest.Port
	conns  *coretest.Factory
	clk    *clock.Mock
	failed []error
	tracks []remote
}

func newHarness() *harness {
	h := &harness{
		q:     &queue{},
		port:  coretest.NewPort(),
		conns: &coretest.Factory{},
		clk:   clock.NewMock(),
	}
	media := coretest.NewMedia()
	h.m = NewManager(Config{
		Port:          h.port,
		Conns:         h.conns,
		Clock:         h.clk,
		Post:          h.q.Post,
		Tracks:        media.Tracks,
		GatherTimeout: 2 * time.Second,
		OnTrack: func(source, label string, _ core.RemoteTrack) {
			h.tracks = append(h.tracks, remote{source, label})
		},
		OnFailed: func(err error) { h.failed = append(h.failed, err) },
	})
	return h
}

func (h *harness) subscribes() int {
	return len(h.port.SentOf(coretest.SentSubscribe))
}

func (h *harness) upgraded(t *testing.T) {
	t.Helper()
	require.NoError(t, h.m.Upgrade(context.Background(), "sess-1"))
	h.m.HandlePublishAnswer("sess-1", "answer")
}

func TestUpgrade_SendsPublishOffer(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.m.Upgrade(context.Background(), "sess-1"))

	pub := h.conns.Last(publishLabel)
	require.NotNil(t, pub)
	require.Len(t, pub.Tracks(), 1)
	require.NotEqual(t, webrtc.PeerConnectionStateNew, pub.State())

	sent := h.port.SentOf(coretest.SentPublish)
	require.Len(t, sent, 1)
	require.Equal(t, "audio", sent[0].TrackKind)
	require.Equal(t, "offer:sfu:publish:1", sent[0].SDP)

	require.NoError(t, h.m.Upgrade(context.Background(), "sess-2"))
	require.Len(t, h.conns.Conns(), 1)
	require.Equal(t, "sess-1", h.m.SessionID())
}

func TestPublishAnswer_TriggersSubscribe(t *testing.T) {
	h := newHarness()
	h.upgraded(t)

	require.True(t, h.conns.Last(publishLabel).HasRemoteDescription())
	require.Equal(t, 1, h.subscribes())
	locked, pending := h.m.Negotiation()
	require.True(t, locked)
	require.False(t, pending)
}

func TestPublishAnswer_OtherSessionDropped(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.m.Upgrade(context.Background(), "sess-1"))
	h.m.HandlePublishAnswer("sess-9", "answer")
	require.False(t, h.conns.Last(publishLabel).HasRemoteDescription())
	require.Zero(t, h.subscribes())
}

func TestSubscribeLock_CoalescesRequests(t *testing.T) {
	h := newHarness()
	h.upgraded(t)

	h.m.HandleTrackAdded("track-a", "alice")
	h.m.HandleTrackAdded("track-b", "bob")
	h.m.RequestSubscribe()
	require.Equal(t, 1, h.subscribes())
	_, pending := h.m.Negotiation()
	require.True(t, pending)

	h.m.HandleSubscribeOffer(context.Background(), "server-offer", nil)
	answers := h.port.SentOf(coretest.SentRenegotiate)
	require.Len(t, answers, 1)
	require.Equal(t, "answer:sfu:subscribe:server-offer", answers[0].SDP)
	require.Equal(t, 1, h.subscribes())

	h.m.HandleRenegotiateComplete()
	require.Equal(t, 2, h.subscribes())
	locked, pending := h.m.Negotiation()
	require.True(t, locked)
	require.False(t, pending)

	h.m.HandleRenegotiateComplete()
	locked, _ = h.m.Negotiation()
	require.False(t, locked)
	require.Equal(t, 2, h.subscribes())
}

func TestSignalingError_ReleasesLock(t *testing.T) {
	h := newHarness()
	h.upgraded(t)

	h.m.HandleError(&core.SignalingError{Code: "subscribe_failed", Message: "boom"})
	locked, _ := h.m.Negotiation()
	require.False(t, locked)

	h.m.RequestSubscribe()
	require.Equal(t, 2, h.subscribes())

	h.m.RequestSubscribe()
	h.m.HandleError(&core.SignalingError{Code: "renegotiate_failed"})
	require.Equal(t, 3, h.subscribes())
	require.True(t, h.m.Active())
}

func TestSubscribeTracksGetStableSyntheticIDs(t *testing.T) {
	h := newHarness()
	h.upgraded(t)
	h.m.HandleSubscribeOffer(context.Background(), "o1", []core.TrackDescriptor{{TrackName: "t-alice", UserName: "alice"}})

	sub := h.conns.Last(subscribeLabel)
	sub.EmitTrack(coretest.NewTrack("t-alice", "stream-x"))
	sub.EmitTrack(coretest.NewTrack("t-alice", "stream-x"))
	sub.EmitTrack(coretest.NewTrack("t-bob", "stream-x"))
	h.q.Drain()

	require.Len(t, h.tracks, 3)
	require.Equal(t, h.tracks[0].source, h.tracks[1].source)
	require.NotEqual(t, h.tracks[0].source, h.tracks[2].source)
	require.Equal(t, "alice", h.tracks[0].label)
	require.Empty(t, h.tracks[2].label)
}

func TestConnectionFailureEndsSession(t *testing.T) {
	h := newHarness()
	h.upgraded(t)
	pub := h.conns.Last(publishLabel)

	pub.SetState(webrtc.PeerConnectionStateFailed)
	h.q.Drain()

	require.False(t, h.m.Active())
	require.True(t, pub.IsClosed())
	require.Len(t, h.failed, 1)
	require.ErrorIs(t, h.failed[0], core.ErrNegotiationFailed)

	h.m.HandleSubscribeOffer(context.Background(), "late", nil)
	require.Nil(t, h.conns.Last(subscribeLabel))
	require.Empty(t, h.m.Connections())
}

func TestClose_SilencesCallbacks(t *testing.T) {
	h := newHarness()
	h.upgraded(t)
	h.m.HandleSubscribeOffer(context.Background(), "o1", nil)
	sub := h.conns.Last(subscribeLabel)
	require.Len(t, h.m.Connections(), 2)

	h.m.Close()
	sub.EmitTrack(coretest.NewTrack("t", "s"))
	h.q.Drain()

	require.True(t, sub.IsClosed())
	require.Empty(t, h.tracks)
	require.Empty(t, h.failed)
	locked, pending := h.m.Negotiation()
	require.False(t, locked || pending)
}

func TestPublishWaitsForGathering(t *testing.T) {
	h := newHarness()
	gathering := make(chan struct{})
	h.m.cfg.Conns = gatherFactory{Factory: h.conns, gathering: gathering}

	require.NoError(t, h.m.Upgrade(context.Background(), "sess-1"))
	require.Empty(t, h.port.SentOf(coretest.SentPublish))

	close(gathering)
	require.Eventually(t, func() bool { return h.q.Len() == 1 }, time.Second, 5*time.Millisecond)
	h.q.Drain()
	require.Len(t, h.port.SentOf(coretest.SentPublish), 1)
}

func TestGatheringAfterCloseIsDropped(t *testing.T) {
	h := newHarness()
	gathering := make(chan struct{})
	h.m.cfg.Conns = gatherFactory{Factory: h.conns, gathering: gathering}

	require.NoError(t, h.m.Upgrade(context.Background(), "sess-1"))
	h.m.Close()
	close(gathering)
	time.Sleep(20 * time.Millisecond)
	h.q.Drain()
	require.Empty(t, h.port.SentOf(coretest.SentPublish))
}

func TestPublishGatherTimeout(t *testing.T) {
	h := newHarness()
	h.m.cfg.Conns = gatherFactory{Factory: h.conns, gathering: make(chan struct{})}
	require.NoError(t, h.m.Upgrade(context.Background(), "sess-1"))

	h.clk.Add(2 * time.Second)
	require.Eventually(t, func() bool { return h.q.Len() == 1 }, time.Second, 5*time.Millisecond)
	h.q.Drain()
	require.Len(t, h.port.SentOf(coretest.SentPublish), 1)
}

// gatherFactory hands out connections that report gathering on a shared channel.
type gatherFactory struct {
	*coretest.Factory
	gathering chan struct{}
}

func (f gatherFactory) NewConnection(ctx context.Context, label string) (core.MediaConnection, error) {
	conn, err := f.Factory.NewConnection(ctx, label)
	if err != nil {
		return nil, err
	}
	conn.(*coretest.Conn).Gathering = f.gathering
	return conn, nil
}
