package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/huddle/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Connection adapts a pion PeerConnection to core.MediaConnection.
// ICE is trickled: descriptions are returned as soon as they are set.
type Connection struct {
	pc    *webrtc.PeerConnection
	label string

	mu      sync.Mutex
	onICE   func(webrtc.ICECandidateInit)
	onTrack func(ctx context.Context, track core.RemoteTrack)
	onState func(webrtc.PeerConnectionState)
	cancel  context.CancelFunc

	closed atomic.Bool
}

var _ core.MediaConnection = (*Connection)(nil)

func NewConnection(pc *webrtc.PeerConnection, label string) *Connection {
	return &Connection{pc: pc, label: label}
}

func (c *Connection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("conn", c.label).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("conn", c.label).Str("peer_connection_state", s.String()).Msg("Peer state")
		if core.IsTerminal(s) {
			cancel()
		}
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("conn", c.label).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(ctx, track)
		}
	})

	return nil
}

func (c *Connection) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("conn", c.label).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("conn", c.label).Msg("closed")
	}
}

func (c *Connection) IsClosed() bool {
	return c.closed.Load() || c.pc.ConnectionState() == webrtc.PeerConnectionStateClosed
}

func (c *Connection) State() webrtc.PeerConnectionState { return c.pc.ConnectionState() }

// AddLocalTrack attaches track and drains the sender's RTCP so interceptors keep running.
func (c *Connection) AddLocalTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *Connection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := ValidateSDP(answer.SDP); err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(answer)
}

func (c *Connection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := ValidateSDP(offer.SDP); err != nil {
		return nil, err
	}
	if n, _ := AudioSections(offer.SDP); n == 0 {
		log.Debug().Str("module", "webrtc").Str("conn", c.label).Msg("offer carries no audio")
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *Connection) HasRemoteDescription() bool { return c.pc.RemoteDescription() != nil }

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *Connection) GatheringComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(c.pc)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

// OnTrack sets application-level callback for remote tracks.
func (c *Connection) OnTrack(fn func(ctx context.Context, track core.RemoteTrack)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *Connection) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *Connection) Stats() webrtc.StatsReport { return c.pc.GetStats() }
