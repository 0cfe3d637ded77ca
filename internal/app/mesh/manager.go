// Package mesh keeps one direct peer connection per remote huddle member.
//
// Every method must run on the huddle loop. Connection callbacks only post
// back to the loop and check that the link still holds the connection.
package mesh

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Self     domain.UserID
	Port     core.SignalPort
	Conns    core.ConnectionFactory
	Registry *app.Registry
	Clock    clock.Clock
	// Post schedules fn on the huddle loop.
	Post func(fn func()) bool
	// Tracks returns the local tracks to attach to new links.
	Tracks func() []webrtc.TrackLocal

	// OnTrack is called on the loop for a remote track of a current link.
	OnTrack func(peer domain.UserID, track core.RemoteTrack)
	// OnRemoved is called on the loop after a link was torn down.
	// err is nil for roster removals and wraps ErrNegotiationFailed otherwise.
	OnRemoved func(peer domain.UserID, err error)
	// OnStateChange is called on the loop for every state change of a current link.
	OnStateChange func(peer domain.UserID, state webrtc.PeerConnectionState)
}

type Manager struct {
	cfg Config
}

func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Manager{cfg: cfg}
}

// Ensure creates the link to peer if none exists. The lower id initiates.
func (m *Manager) Ensure(ctx context.Context, peer domain.UserID) error {
	if peer == m.cfg.Self {
		return nil
	}
	if _, ok := m.cfg.Registry.Get(peer); ok {
		return nil
	}

	role := app.RoleResponder
	if domain.Less(m.cfg.Self, peer) {
		role = app.RoleInitiator
	}
	link, err := m.open(ctx, peer, role)
	if err != nil {
		return err
	}
	if role == app.RoleResponder {
		return nil
	}

	offer, err := link.Conn.CreateAndSetOffer()
	if err != nil {
		m.fail(peer, link.Conn, fmt.Errorf("create offer: %w", err))
		return fmt.Errorf("mesh: offer to %s: %w", peer, core.ErrNegotiationFailed)
	}
	link.OfferPending = true
	if err := m.cfg.Port.SendPeerSignal(peer, core.PeerSignal{Type: core.SignalOffer, SDP: offer.SDP}); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(peer)).Msg("send offer failed")
		return err
	}
	log.Info().Str("module", "mesh").Str("peer", string(peer)).Msg("offer sent")
	return nil
}

// HandleSignal processes one negotiation message from peer, in arrival order.
func (m *Manager) HandleSignal(ctx context.Context, from domain.UserID, sig core.PeerSignal) {
	logger := log.With().Str("module", "mesh").Str("peer", string(from)).Str("signal", string(sig.Type)).Logger()
	if from == m.cfg.Self {
		return
	}

	switch sig.Type {
	case core.SignalOffer:
		link, ok := m.cfg.Registry.Get(from)
		if ok && link.Role == app.RoleInitiator && link.OfferPending {
			logger.Warn().Msg("offer while own offer outstanding, ignoring")
			return
		}
		if !ok {
			var err error
			if link, err = m.open(ctx, from, app.RoleResponder); err != nil {
				logger.Error().Err(err).Msg("open link for offer")
				return
			}
		}
		answer, err := link.Conn.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP})
		if err != nil {
			m.fail(from, link.Conn, fmt.Errorf("apply offer: %w", err))
			return
		}
		if err := m.cfg.Port.SendPeerSignal(from, core.PeerSignal{Type: core.SignalAnswer, SDP: answer.SDP}); err != nil {
			logger.Warn().Err(err).Msg("send answer failed")
		}
		m.flush(link)
		logger.Info().Msg("answer sent")

	case core.SignalAnswer:
		link, ok := m.cfg.Registry.Get(from)
		if !ok || !link.OfferPending {
			logger.Debug().Msg("unexpected answer, dropping")
			return
		}
		if err := link.Conn.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP}); err != nil {
			m.fail(from, link.Conn, fmt.Errorf("apply answer: %w", err))
			return
		}
		link.OfferPending = false
		m.flush(link)

	case core.SignalCandidate:
		link, ok := m.cfg.Registry.Get(from)
		if !ok || sig.Candidate == nil {
			logger.Debug().Msg("candidate without link, dropping")
			return
		}
		if !link.Conn.HasRemoteDescription() {
			link.Queue(*sig.Candidate)
			return
		}
		if err := link.Conn.AddICECandidate(*sig.Candidate); err != nil {
			logger.Debug().Err(err).Msg("candidate rejected")
		}

	default:
		logger.Debug().Msg("unknown peer signal")
	}
}

// Remove tears down the link to peer, if any.
func (m *Manager) Remove(peer domain.UserID) {
	m.remove(peer, nil)
}

// CloseAll tears down every link.
func (m *Manager) CloseAll() {
	for _, l := range m.cfg.Registry.Clear() {
		l.Conn.Close()
		log.Info().Str("module", "mesh").Str("peer", string(l.PeerID)).Msg("link closed")
		if m.cfg.OnRemoved != nil {
			m.cfg.OnRemoved(l.PeerID, nil)
		}
	}
}

func (m *Manager) Peers() []domain.UserID { return m.cfg.Registry.Peers() }

func (m *Manager) Links() []*app.MeshLink { return m.cfg.Registry.Links() }

func (m *Manager) open(ctx context.Context, peer domain.UserID, role app.Role) (*app.MeshLink, error) {
	conn, err := m.cfg.Conns.NewConnection(ctx, "mesh:"+string(peer))
	if err != nil {
		return nil, fmt.Errorf("mesh: new connection to %s: %w", peer, err)
	}
	m.bind(peer, conn)
	if err := conn.Start(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mesh: start connection to %s: %w", peer, err)
	}
	if m.cfg.Tracks != nil {
		for _, t := range m.cfg.Tracks() {
			if err := conn.AddLocalTrack(t); err != nil {
				conn.Close()
				return nil, fmt.Errorf("mesh: attach track to %s: %w", peer, err)
			}
		}
	}

	link := &app.MeshLink{
		PeerID:    peer,
		Conn:      conn,
		Role:      role,
		CreatedAt: m.cfg.Clock.Now(),
	}
	m.cfg.Registry.Put(link)
	return link, nil
}

func (m *Manager) bind(peer domain.UserID, conn core.MediaConnection) {
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		m.cfg.Post(func() {
			if !m.cfg.Registry.IsCurrent(peer, conn) {
				return
			}
			if err := m.cfg.Port.SendPeerSignal(peer, core.PeerSignal{Type: core.SignalCandidate, Candidate: &ci}); err != nil {
				log.Debug().Err(err).Str("module", "mesh").Str("peer", string(peer)).Msg("send candidate failed")
			}
		})
	})
	conn.OnTrack(func(_ context.Context, track core.RemoteTrack) {
		m.cfg.Post(func() {
			if !m.cfg.Registry.IsCurrent(peer, conn) || m.cfg.OnTrack == nil {
				return
			}
			m.cfg.OnTrack(peer, track)
		})
	})
	conn.OnStateChange(func(s webrtc.PeerConnectionState) {
		m.cfg.Post(func() {
			if !m.cfg.Registry.IsCurrent(peer, conn) {
				return
			}
			if m.cfg.OnStateChange != nil {
				m.cfg.OnStateChange(peer, s)
			}
			if core.IsTerminal(s) {
				m.fail(peer, conn, fmt.Errorf("connection %s", s))
			}
		})
	})
}

// flush applies candidates that arrived before the remote description.
func (m *Manager) flush(link *app.MeshLink) {
	for _, ci := range link.Drain() {
		if err := link.Conn.AddICECandidate(ci); err != nil {
			log.Debug().Err(err).Str("module", "mesh").Str("peer", string(link.PeerID)).Msg("queued candidate rejected")
		}
	}
}

func (m *Manager) fail(peer domain.UserID, conn core.MediaConnection, cause error) {
	if !m.cfg.Registry.IsCurrent(peer, conn) {
		conn.Close()
		return
	}
	log.Warn().Err(cause).Str("module", "mesh").Str("peer", string(peer)).Msg("link failed")
	m.remove(peer, fmt.Errorf("%w: %w", core.ErrNegotiationFailed, cause))
}

func (m *Manager) remove(peer domain.UserID, err error) {
	link, ok := m.cfg.Registry.Remove(peer)
	if !ok {
		return
	}
	link.Conn.Close()
	log.Info().Str("module", "mesh").Str("peer", string(peer)).Msg("link removed")
	if m.cfg.OnRemoved != nil {
		m.cfg.OnRemoved(peer, err)
	}
}
