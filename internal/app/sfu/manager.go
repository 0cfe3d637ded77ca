// Package sfu negotiates the publish and subscribe connections of a huddle
// against a selective forwarding server.
//
// Every exported method must run on the huddle loop.
package sfu

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/huddle/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	publishLabel   = "sfu:publish"
	subscribeLabel = "sfu:subscribe"

	defaultGatherTimeout = 5 * time.Second
)

type Config struct {
	Port  core.SignalPort
	Conns core.ConnectionFactory
	Clock clock.Clock
	// Post schedules fn on the huddle loop.
	Post   func(fn func()) bool
	Tracks func() []webrtc.TrackLocal
	// GatherTimeout bounds the wait for ICE gathering before an SDP is sent.
	GatherTimeout time.Duration

	// OnTrack is called on the loop for every remote track of the current session.
	OnTrack func(sourceID, label string, track core.RemoteTrack)
	// OnFailed is called on the loop after the session was torn down by a failure.
	OnFailed func(err error)
	// OnStateChange is called on the loop for state changes of the current session.
	OnStateChange func(label string, state webrtc.PeerConnectionState)
}

type Manager struct {
	cfg     Config
	ctx     context.Context
	session *Session
}

func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = defaultGatherTimeout
	}
	return &Manager{cfg: cfg}
}

// Upgrade creates the session and sends the publish offer once gathering is done.
// A second upgrade while a session exists is ignored.
func (m *Manager) Upgrade(ctx context.Context, sessionID string) error {
	if m.session != nil {
		log.Debug().Str("module", "sfu").Str("session", m.session.ID).Msg("already upgraded")
		return nil
	}
	s := newSession(sessionID)
	m.session = s
	m.ctx = ctx

	conn, err := m.cfg.Conns.NewConnection(ctx, publishLabel)
	if err != nil {
		m.fail(s, fmt.Errorf("new publish connection: %w", err))
		return err
	}
	s.Publish = conn
	m.bind(s, conn, publishLabel)
	if err := conn.Start(ctx); err != nil {
		m.fail(s, fmt.Errorf("start publish connection: %w", err))
		return err
	}
	if m.cfg.Tracks != nil {
		for _, t := range m.cfg.Tracks() {
			if err := conn.AddLocalTrack(t); err != nil {
				m.fail(s, fmt.Errorf("attach track: %w", err))
				return err
			}
		}
	}
	if _, err := conn.CreateAndSetOffer(); err != nil {
		m.fail(s, fmt.Errorf("publish offer: %w", err))
		return err
	}

	log.Info().Str("module", "sfu").Str("session", sessionID).Msg("publish offer created, gathering")
	m.afterGathering(s, conn, func() {
		desc := conn.LocalDescription()
		if desc == nil {
			m.fail(s, fmt.Errorf("publish connection has no local description"))
			return
		}
		if err := m.cfg.Port.SendSFUPublish(webrtc.RTPCodecTypeAudio.String(), desc.SDP); err != nil {
			log.Warn().Err(err).Str("module", "sfu").Msg("send publish failed")
		}
	})
	return nil
}

// HandlePublishAnswer commits the server answer and asks for a subscription.
func (m *Manager) HandlePublishAnswer(sessionID, sdp string) {
	s := m.session
	if s == nil || s.Publish == nil {
		log.Debug().Str("module", "sfu").Msg("publish answer without session, dropping")
		return
	}
	if sessionID != "" && s.ID != "" && sessionID != s.ID {
		log.Debug().Str("module", "sfu").Str("got", sessionID).Str("want", s.ID).Msg("publish answer for another session")
		return
	}
	if s.ID == "" {
		s.ID = sessionID
	}
	if err := s.Publish.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		m.fail(s, fmt.Errorf("apply publish answer: %w", err))
		return
	}
	log.Info().Str("module", "sfu").Str("session", s.ID).Msg("publish negotiated")
	m.RequestSubscribe()
}

// RequestSubscribe starts a subscribe cycle, or marks one pending when a cycle
// is already in flight.
func (m *Manager) RequestSubscribe() {
	s := m.session
	if s == nil {
		return
	}
	if s.negotiating {
		s.pending = true
		log.Debug().Str("module", "sfu").Msg("subscribe queued behind running negotiation")
		return
	}
	s.negotiating = true
	if err := m.cfg.Port.SendSFUSubscribe(); err != nil {
		log.Warn().Err(err).Str("module", "sfu").Msg("send subscribe failed")
		s.negotiating = false
	}
}

// HandleSubscribeOffer answers a server offer on the subscribe connection.
func (m *Manager) HandleSubscribeOffer(ctx context.Context, sdp string, tracks []core.TrackDescriptor) {
	s := m.session
	if s == nil {
		log.Debug().Str("module", "sfu").Msg("subscribe offer without session, dropping")
		return
	}
	for _, td := range tracks {
		s.labels[td.TrackName] = td.UserName
	}
	// A server offer is a cycle in flight even when it was not requested.
	s.negotiating = true

	if s.Subscribe == nil {
		conn, err := m.cfg.Conns.NewConnection(ctx, subscribeLabel)
		if err != nil {
			m.fail(s, fmt.Errorf("new subscribe connection: %w", err))
			return
		}
		s.Subscribe = conn
		m.bind(s, conn, subscribeLabel)
		if err := conn.Start(ctx); err != nil {
			m.fail(s, fmt.Errorf("start subscribe connection: %w", err))
			return
		}
	}
	conn := s.Subscribe
	if _, err := conn.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		m.fail(s, fmt.Errorf("apply subscribe offer: %w", err))
		return
	}
	m.afterGathering(s, conn, func() {
		desc := conn.LocalDescription()
		if desc == nil {
			m.fail(s, fmt.Errorf("subscribe connection has no local description"))
			return
		}
		if err := m.cfg.Port.SendSFURenegotiateAnswer(desc.SDP); err != nil {
			log.Warn().Err(err).Str("module", "sfu").Msg("send renegotiate answer failed")
			m.release(s)
		}
	})
}

// HandleRenegotiateComplete releases the lock and replays a pending request.
func (m *Manager) HandleRenegotiateComplete() {
	if s := m.session; s != nil {
		m.release(s)
	}
}

// HandleTrackAdded records the label of an announced track and asks for it.
func (m *Manager) HandleTrackAdded(trackName, userName string) {
	s := m.session
	if s == nil {
		return
	}
	s.labels[trackName] = userName
	m.RequestSubscribe()
}

// HandleError releases the lock so a server-side failure cannot wedge later cycles.
func (m *Manager) HandleError(err *core.SignalingError) {
	s := m.session
	if s == nil {
		return
	}
	log.Warn().Err(err).Str("module", "sfu").Bool("negotiating", s.negotiating).Msg("negotiation error from server")
	m.release(s)
}

// Close tears the session down without reporting a failure.
func (m *Manager) Close() {
	s := m.session
	if s == nil {
		return
	}
	m.session = nil
	s.close()
	log.Info().Str("module", "sfu").Str("session", s.ID).Msg("session closed")
}

func (m *Manager) Active() bool { return m.session != nil }

func (m *Manager) SessionID() string {
	if m.session == nil {
		return ""
	}
	return m.session.ID
}

// Negotiation reports the lock and the pending flag.
func (m *Manager) Negotiation() (locked, pending bool) {
	if m.session == nil {
		return false, false
	}
	return m.session.negotiating, m.session.pending
}

// Connections returns the live connections keyed by label.
func (m *Manager) Connections() map[string]core.MediaConnection {
	out := make(map[string]core.MediaConnection, 2)
	if s := m.session; s != nil {
		if s.Publish != nil {
			out[publishLabel] = s.Publish
		}
		if s.Subscribe != nil {
			out[subscribeLabel] = s.Subscribe
		}
	}
	return out
}

func (m *Manager) release(s *Session) {
	s.negotiating = false
	if s.pending {
		s.pending = false
		m.RequestSubscribe()
	}
}

func (m *Manager) current(s *Session, conn core.MediaConnection) bool {
	return m.session == s && (s.Publish == conn || s.Subscribe == conn)
}

func (m *Manager) bind(s *Session, conn core.MediaConnection, label string) {
	conn.OnTrack(func(_ context.Context, track core.RemoteTrack) {
		m.cfg.Post(func() {
			if !m.current(s, conn) || m.cfg.OnTrack == nil {
				return
			}
			source := s.sourceFor(track.ID())
			log.Info().Str("module", "sfu").Str("source", source).Str("track", track.ID()).Msg("remote track")
			m.cfg.OnTrack(source, s.label(track.ID(), track.StreamID()), track)
		})
	})
	conn.OnStateChange(func(state webrtc.PeerConnectionState) {
		m.cfg.Post(func() {
			if !m.current(s, conn) {
				return
			}
			if m.cfg.OnStateChange != nil {
				m.cfg.OnStateChange(label, state)
			}
			if core.IsTerminal(state) {
				m.fail(s, fmt.Errorf("%s connection %s", label, state))
			}
		})
	})
}

// afterGathering runs fn on the loop once conn finished ICE gathering or the
// timeout passed. fn is skipped if conn stopped being current meanwhile.
func (m *Manager) afterGathering(s *Session, conn core.MediaConnection, fn func()) {
	gathered := conn.GatheringComplete()
	select {
	case <-gathered:
		fn()
		return
	default:
	}

	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := m.cfg.Clock.After(m.cfg.GatherTimeout)
	go func() {
		select {
		case <-gathered:
		case <-timeout:
			log.Warn().Str("module", "sfu").Msg("ICE gathering timed out, sending partial description")
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
		m.cfg.Post(func() {
			if !m.current(s, conn) {
				return
			}
			fn()
		})
	}()
}

func (m *Manager) fail(s *Session, cause error) {
	if m.session != s {
		return
	}
	m.session = nil
	s.close()
	err := fmt.Errorf("sfu session %q: %w: %w", s.ID, core.ErrNegotiationFailed, cause)
	log.Error().Err(err).Str("module", "sfu").Msg("session failed")
	if m.cfg.OnFailed != nil {
		m.cfg.OnFailed(err)
	}
}
