package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type accepted struct {
	conn *websocket.Conn
	auth string
}

func newServer(t *testing.T) (string, <-chan accepted) {
	t.Helper()
	conns := make(chan accepted, 1)
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- accepted{conn: ws, auth: r.Header.Get("Authorization")}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns
}

func dial(t *testing.T, opts Options) (*Client, accepted) {
	t.Helper()
	url, conns := newServer(t)
	c, err := Dial(context.Background(), url, opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	var srv accepted
	select {
	case srv = <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("server never accepted")
	}
	t.Cleanup(func() { _ = srv.conn.Close() })
	return c, srv
}

func run(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var m map[string]any
	require.NoError(t, ws.ReadJSON(&m))
	return m
}

func TestOutboundEnvelopes(t *testing.T) {
	c, srv := dial(t, Options{Token: "secret"})
	run(t, c)
	require.Equal(t, "Bearer secret", srv.auth)

	require.NoError(t, c.SendJoin("room-1"))
	require.Equal(t, map[string]any{"type": "huddle_join", "room": "room-1"}, readJSON(t, srv.conn))

	require.NoError(t, c.SendPeerSignal("u2", core.PeerSignal{Type: core.SignalOffer, SDP: "v=0"}))
	require.Equal(t, map[string]any{
		"type":   "peer_signal",
		"to":     "u2",
		"signal": map[string]any{"type": "offer", "sdp": "v=0"},
	}, readJSON(t, srv.conn))

	mid := "0"
	idx := uint16(0)
	require.NoError(t, c.SendPeerSignal("u2", core.PeerSignal{
		Type:      core.SignalCandidate,
		Candidate: &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.2 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx},
	}))
	m := readJSON(t, srv.conn)
	sig := m["signal"].(map[string]any)
	require.Equal(t, "candidate", sig["type"])
	cand := sig["candidate"].(map[string]any)
	require.Equal(t, "candidate:1 1 udp 1 10.0.0.2 5000 typ host", cand["candidate"])
	require.Equal(t, "0", cand["sdpMid"])

	require.NoError(t, c.SendSFUPublish("audio", "v=0"))
	require.Equal(t, map[string]any{"type": "sfu_publish", "track_kind": "audio", "sdp": "v=0"}, readJSON(t, srv.conn))

	require.NoError(t, c.SendSFUSubscribe())
	require.Equal(t, map[string]any{"type": "sfu_subscribe"}, readJSON(t, srv.conn))

	require.NoError(t, c.SendSFURenegotiateAnswer("v=0"))
	require.Equal(t, map[string]any{"type": "sfu_renegotiate_answer", "sdp": "v=0"}, readJSON(t, srv.conn))

	require.NoError(t, c.SendLeave())
	require.Equal(t, map[string]any{"type": "huddle_leave"}, readJSON(t, srv.conn))
}

func TestInboundEventsReachSubscribers(t *testing.T) {
	c, srv := dial(t, Options{})
	events := make(chan core.Event, 8)
	c.Subscribe(func(ev core.Event) { events <- ev })
	run(t, c)

	require.NoError(t, srv.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","text":"hi"}`)))
	require.NoError(t, srv.conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, srv.conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"huddle_roster","room":"r","participants":[{"id":"u1","display_name":"Ann"},{"id":"u2"}]}`)))

	select {
	case ev := <-events:
		require.Equal(t, core.RosterUpdate{Roster: domain.Roster{
			RoomID: "r",
			Participants: []domain.Participant{
				{ID: "u1", DisplayName: "Ann"},
				{ID: "u2"},
			},
		}}, ev)
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}
	require.Empty(t, events)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c, srv := dial(t, Options{})
	first := make(chan core.Event, 8)
	second := make(chan core.Event, 8)
	sub := c.Subscribe(func(ev core.Event) { first <- ev })
	c.Subscribe(func(ev core.Event) { second <- ev })
	sub.Unsubscribe()
	sub.Unsubscribe()
	run(t, c)

	require.NoError(t, srv.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"sfu_renegotiate_complete"}`)))
	select {
	case ev := <-second:
		require.Equal(t, core.SFURenegotiateComplete{}, ev)
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}
	require.Empty(t, first)
}

func TestServerPingGetsPong(t *testing.T) {
	c, srv := dial(t, Options{})
	run(t, c)

	require.NoError(t, srv.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	require.Equal(t, map[string]any{"type": "pong"}, readJSON(t, srv.conn))
}

func TestBackpressureAndClosed(t *testing.T) {
	c, _ := dial(t, Options{SendQueue: 1})

	require.NoError(t, c.SendLeave())
	require.ErrorIs(t, c.SendLeave(), core.ErrBackpressure)

	c.Close()
	c.Close()
	require.ErrorIs(t, c.SendLeave(), core.ErrConnectionClosed)
}

func TestJoinRateLimit(t *testing.T) {
	clk := clock.NewMock()
	c, _ := dial(t, Options{JoinLimit: 2, JoinWindow: 10 * time.Second, Clock: clk, SendQueue: 16})

	require.NoError(t, c.SendJoin("r"))
	require.NoError(t, c.SendJoin("r"))
	require.ErrorIs(t, c.SendJoin("r"), ErrRateLimited)
	require.NoError(t, c.SendJoin("other"))

	clk.Add(11 * time.Second)
	require.NoError(t, c.SendJoin("r"))
}

func TestRunReturnsOnCancelAndPeerClose(t *testing.T) {
	c, _ := dial(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	c2, srv := dial(t, Options{})
	go func() { done <- c2.Run(context.Background()) }()
	_ = srv.conn.Close()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	require.ErrorIs(t, c2.SendLeave(), core.ErrConnectionClosed)
}
