// Package coretest provides in-memory fakes of the core interfaces for tests.
package coretest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/pion/webrtc/v4"
)

var errNoLocalOffer = errors.New("no local offer")

// Conn is a scripted core.MediaConnection.
type Conn struct {
	Label string

	mu         sync.Mutex
	started    bool
	closed     bool
	state      webrtc.PeerConnectionState
	tracks     []webrtc.TrackLocal
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	offers     int
	report     webrtc.StatsReport

	// RejectCandidates makes AddICECandidate fail.
	RejectCandidates bool
	// Gathering, when set, is returned by GatheringComplete instead of a closed channel.
	Gathering chan struct{}

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(context.Context, core.RemoteTrack)
	onState func(webrtc.PeerConnectionState)

	ctx    context.Context
	cancel context.CancelFunc
}

func NewConn(label string) *Conn {
	return &Conn{Label: label, state: webrtc.PeerConnectionStateNew}
}

func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = webrtc.PeerConnectionStateClosed
	cb := c.onState
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	if cb != nil {
		cb(webrtc.PeerConnectionStateClosed)
	}
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *Conn) State() webrtc.PeerConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) AddLocalTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, track)
	return nil
}

func (c *Conn) Tracks() []webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), c.tracks...)
}

func (c *Conn) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers++
	c.local = &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer:%s:%d", c.Label, c.offers)}
	if c.state == webrtc.PeerConnectionStateNew {
		c.state = webrtc.PeerConnectionStateConnecting
	}
	return c.local, nil
}

func (c *Conn) ApplyAnswer(answer webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil || c.local.Type != webrtc.SDPTypeOffer {
		return errNoLocalOffer
	}
	c.remote = &answer
	return nil
}

func (c *Conn) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = &offer
	c.local = &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer:" + c.Label + ":" + offer.SDP}
	if c.state == webrtc.PeerConnectionStateNew {
		c.state = webrtc.PeerConnectionStateConnecting
	}
	return c.local, nil
}

func (c *Conn) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote != nil
}

func (c *Conn) RemoteDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Conn) LocalDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Conn) GatheringComplete() <-chan struct{} {
	if c.Gathering != nil {
		return c.Gathering
	}
	done := make(chan struct{})
	close(done)
	return done
}

func (c *Conn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return errors.New("remote description not set")
	}
	if c.RejectCandidates {
		return errors.New("candidate rejected")
	}
	c.candidates = append(c.candidates, ci)
	return nil
}

// Candidates returns the remote candidates applied so far.
func (c *Conn) Candidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.candidates...)
}

func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *Conn) OnTrack(fn func(context.Context, core.RemoteTrack)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *Conn) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *Conn) Stats() webrtc.StatsReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

func (c *Conn) SetStats(r webrtc.StatsReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report = r
}

// SetState moves the connection to s and fires the state callback.
func (c *Conn) SetState(s webrtc.PeerConnectionState) {
	c.mu.Lock()
	c.state = s
	cb := c.onState
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// EmitCandidate simulates a locally gathered candidate.
func (c *Conn) EmitCandidate(candidate string) {
	c.mu.Lock()
	cb := c.onICE
	c.mu.Unlock()
	if cb != nil {
		cb(webrtc.ICECandidateInit{Candidate: candidate})
	}
}

// EmitTrack simulates an incoming remote track.
func (c *Conn) EmitTrack(track core.RemoteTrack) {
	c.mu.Lock()
	ctx, cb := c.ctx, c.onTrack
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if cb != nil {
		cb(ctx, track)
	}
}

// Factory hands out Conns and remembers them in creation order.
type Factory struct {
	mu    sync.Mutex
	conns []*Conn
	// Err, when set, fails every NewConnection call.
	Err error
}

func (f *Factory) NewConnection(_ context.Context, label string) (core.MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	c := NewConn(label)
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *Factory) Conns() []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Conn(nil), f.conns...)
}

// Last returns the most recent connection with the given label.
func (f *Factory) Last(label string) *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.conns) - 1; i >= 0; i-- {
		if f.conns[i].Label == label {
			return f.conns[i]
		}
	}
	return nil
}
