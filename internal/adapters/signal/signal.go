package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrRateLimited = errors.New("join rate limited")

const (
	DefaultPingPeriod = 54 * time.Second
	DefaultReadLimit  = 32768
	DefaultSendQueue  = 32
	writeWait         = 5 * time.Second
)

type Options struct {
	// Token is sent as a bearer Authorization header on dial.
	Token      string
	PingPeriod time.Duration
	ReadLimit  int64
	SendQueue  int
	// JoinLimit joins per JoinWindow are allowed for one room; zero disables the limit.
	JoinLimit  int
	JoinWindow time.Duration
	Clock      clock.Clock
}

func (o *Options) defaults() {
	if o.PingPeriod <= 0 {
		o.PingPeriod = DefaultPingPeriod
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.SendQueue <= 0 {
		o.SendQueue = DefaultSendQueue
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

// Client is the huddle's end of the shared signaling websocket. It implements core.SignalPort.
type Client struct {
	conn *websocket.Conn
	send chan core.Frame
	opts Options

	mu     sync.RWMutex
	closed bool

	subMu   sync.Mutex
	subs    map[uint64]func(core.Event)
	nextSub uint64

	joins *rateLimiter
}

var _ core.SignalPort = (*Client)(nil)

func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	log.Info().Str("module", "signal").Str("url", url).Msg("connected")
	return NewClient(ws, opts), nil
}

func NewClient(ws *websocket.Conn, opts Options) *Client {
	opts.defaults()
	return &Client{
		conn:  ws,
		send:  make(chan core.Frame, opts.SendQueue),
		opts:  opts,
		subs:  make(map[uint64]func(core.Event)),
		joins: newRateLimiter(opts.Clock, opts.JoinLimit, opts.JoinWindow),
	}
}

// Run pumps frames until ctx ends or the socket fails, then closes the client.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		c.Close()
	}()
	go c.writePump(ctx)
	err := c.readPump(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Client) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

type subscription struct {
	c    *Client
	id   uint64
	once sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.c.subMu.Lock()
		delete(s.c.subs, s.id)
		s.c.subMu.Unlock()
	})
}

func (c *Client) Subscribe(fn func(core.Event)) core.Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSub++
	c.subs[c.nextSub] = fn
	return &subscription{c: c, id: c.nextSub}
}

func (c *Client) publish(ev core.Event) {
	c.subMu.Lock()
	fns := make([]func(core.Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Client) SendJoin(room domain.RoomID) error {
	if !c.joins.Allow(room) {
		return ErrRateLimited
	}
	return c.sendJSON(joinMsg{Type: typeHuddleJoin, Room: string(room)})
}

func (c *Client) SendLeave() error {
	return c.sendJSON(envelope{Type: typeHuddleLeave})
}

func (c *Client) SendPeerSignal(to domain.UserID, sig core.PeerSignal) error {
	return c.sendJSON(peerSignalOut{
		Type:   typePeerSignal,
		To:     string(to),
		Signal: encodeSignal(sig),
	})
}

func (c *Client) SendSFUPublish(trackKind, sdp string) error {
	return c.sendJSON(sfuPublishMsg{Type: typeSFUPublish, TrackKind: trackKind, SDP: sdp})
}

func (c *Client) SendSFUSubscribe() error {
	return c.sendJSON(envelope{Type: typeSFUSubscribe})
}

func (c *Client) SendSFURenegotiateAnswer(sdp string) error {
	return c.sendJSON(sdpMsg{Type: typeSFURenegotiateAnswer, SDP: sdp})
}

func encodeSignal(sig core.PeerSignal) signalPayload {
	p := signalPayload{Type: string(sig.Type), SDP: sig.SDP}
	if sig.Candidate != nil {
		ci := *sig.Candidate
		p.Candidate = &ci
	}
	return p
}
