// Package huddle is the root of the voice huddle: it owns the session, the
// microphone and the mode, and drives the mesh and sfu managers from a single
// event loop.
package huddle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/app/mesh"
	"github.com/dkeye/huddle/internal/app/playout"
	"github.com/dkeye/huddle/internal/app/sfu"
	"github.com/dkeye/huddle/internal/app/stats"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/pion/webrtc/v4"
)

const (
	DefaultGracePeriod   = 3 * time.Second
	DefaultStatsInterval = time.Second
)

type Options struct {
	Self domain.UserID
	// GracePeriod is how long a fresh session ignores rosters that lack self.
	GracePeriod   time.Duration
	StatsInterval time.Duration
	// GatherTimeout bounds ICE gathering before an SFU description is sent.
	GatherTimeout time.Duration
	Clock         clock.Clock
	// Policy overrides the auto-leave rule built from GracePeriod.
	Policy app.Policy
}

// SFUState is the published view of the SFU session.
type SFUState struct {
	SessionID   string `json:"session_id"`
	Negotiating bool   `json:"negotiating"`
	Pending     bool   `json:"pending"`
}

// State is an immutable snapshot of the huddle, republished on every change.
type State struct {
	Active   bool          `json:"active"`
	RoomID   domain.RoomID `json:"room_id,omitempty"`
	Mode     domain.Mode   `json:"mode,omitempty"`
	JoinedAt time.Time     `json:"joined_at"`

	Roster      []domain.Participant      `json:"roster"`
	Links       []domain.UserID           `json:"links"`
	Streams     []playout.StreamInfo      `json:"streams"`
	Stats       map[string]stats.Snapshot `json:"stats"`
	Connections map[string]string         `json:"connections"`
	SFU         *SFUState                 `json:"sfu,omitempty"`
	LastError   string                    `json:"last_error,omitempty"`
}

type Controller struct {
	opts   Options
	clock  clock.Clock
	policy app.Policy

	port core.SignalPort
	mic  core.MediaSource

	loop     *app.Loop
	registry *app.Registry
	mesh     *mesh.Manager
	sfu      *sfu.Manager
	streams  *playout.Set
	stats    *stats.Collector
	poller   *stats.Poller

	// Owned by the loop goroutine.
	ctx      context.Context
	session  domain.Session
	media    core.LocalMedia
	sub      core.Subscription
	roster   domain.Roster
	gen      uint64
	starting uint64
	lastErr  string

	state  atomic.Pointer[State]
	exited chan struct{}

	mu       sync.Mutex
	watchers map[int]func(State)
	nextW    int
}

func New(port core.SignalPort, conns core.ConnectionFactory, mic core.MediaSource, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	c := &Controller{
		opts:     opts,
		clock:    opts.Clock,
		policy:   opts.Policy,
		port:     port,
		mic:      mic,
		loop:     app.NewLoop(),
		registry: app.NewRegistry(),
		stats:    stats.NewCollector(),
		poller:   stats.NewPoller(opts.Clock, opts.StatsInterval),
		ctx:      context.Background(),
		exited:   make(chan struct{}),
		watchers: make(map[int]func(State)),
	}
	if c.policy == nil {
		c.policy = app.GracePolicy{Grace: opts.GracePeriod}
	}
	c.streams = playout.NewSet(c.onStreamEnded)
	c.mesh = mesh.NewManager(mesh.Config{
		Self:          opts.Self,
		Port:          port,
		Conns:         conns,
		Registry:      c.registry,
		Clock:         opts.Clock,
		Post:          c.loop.Post,
		Tracks:        c.localTracks,
		OnTrack:       c.onMeshTrack,
		OnRemoved:     c.onLinkRemoved,
		OnStateChange: func(domain.UserID, webrtc.PeerConnectionState) { c.publish() },
	})
	c.sfu = sfu.NewManager(sfu.Config{
		Port:          port,
		Conns:         conns,
		Clock:         opts.Clock,
		Post:          c.loop.Post,
		Tracks:        c.localTracks,
		GatherTimeout: opts.GatherTimeout,
		OnTrack:       c.onSFUTrack,
		OnFailed:      c.onSFUFailed,
		OnStateChange: func(string, webrtc.PeerConnectionState) { c.publish() },
	})
	c.state.Store(&State{})
	return c
}

// Run drives the huddle until ctx is cancelled, then tears everything down.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.exited)
	c.ctx = ctx
	c.loop.Run(ctx)
	// The loop has exited on this goroutine; loop-owned state is ours again.
	c.stop()
}

// Done is closed once Run has returned and the huddle is torn down.
func (c *Controller) Done() <-chan struct{} { return c.exited }

// State returns the latest published snapshot.
func (c *Controller) State() State { return *c.state.Load() }

// OnChange registers fn for every republished snapshot. fn runs on the huddle
// loop and must not call back into the controller synchronously.
func (c *Controller) OnChange(fn func(State)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextW++
	id := c.nextW
	c.watchers[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

// AddSink attaches a playout sink to the remote stream of sourceID.
func (c *Controller) AddSink(sourceID, name string, sink playout.Sink) bool {
	return c.streams.AddSink(sourceID, name, sink)
}

func (c *Controller) RemoveSink(sourceID, name string) bool {
	return c.streams.RemoveSink(sourceID, name)
}

// MuteSink pauses or resumes delivery to one sink without detaching it.
func (c *Controller) MuteSink(sourceID, name string, muted bool) bool {
	return c.streams.MuteSink(sourceID, name, muted)
}

func (c *Controller) localTracks() []webrtc.TrackLocal {
	if c.media == nil {
		return nil
	}
	return c.media.Tracks()
}

// publish rebuilds the snapshot from loop-owned state and notifies watchers.
func (c *Controller) publish() {
	s := &State{
		Active:      c.session.Active,
		RoomID:      c.session.RoomID,
		Mode:        c.session.Mode,
		JoinedAt:    c.session.JoinedAt,
		Roster:      append([]domain.Participant(nil), c.roster.Participants...),
		Links:       c.registry.Peers(),
		Streams:     c.streams.List(),
		Stats:       c.stats.All(),
		Connections: make(map[string]string),
		LastError:   c.lastErr,
	}
	for _, l := range c.registry.Links() {
		s.Connections[meshKey(l.PeerID)] = l.Conn.State().String()
	}
	for label, conn := range c.sfu.Connections() {
		s.Connections[label] = conn.State().String()
	}
	if c.sfu.Active() {
		locked, pending := c.sfu.Negotiation()
		s.SFU = &SFUState{SessionID: c.sfu.SessionID(), Negotiating: locked, Pending: pending}
	}
	c.state.Store(s)

	c.mu.Lock()
	watchers := make([]func(State), 0, len(c.watchers))
	for _, fn := range c.watchers {
		watchers = append(watchers, fn)
	}
	c.mu.Unlock()
	for _, fn := range watchers {
		fn(*s)
	}
}

func meshKey(peer domain.UserID) string { return "mesh:" + string(peer) }
