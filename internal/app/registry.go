package app

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/app/stats"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Role decides which side of a mesh link sends the offer.
type Role int

const (
	RoleResponder Role = iota
	RoleInitiator
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// MeshLink is the direct connection to one remote participant.
type MeshLink struct {
	PeerID    domain.UserID
	Conn      core.MediaConnection
	Role      Role
	CreatedAt time.Time
	// OfferPending is set while the initiator waits for an answer.
	OfferPending bool
	LastStats    *stats.Snapshot

	pending []webrtc.ICECandidateInit
}

// Queue holds a remote candidate until the remote description is set.
func (l *MeshLink) Queue(ci webrtc.ICECandidateInit) {
	l.pending = append(l.pending, ci)
}

// Drain returns and forgets the queued candidates, oldest first.
func (l *MeshLink) Drain() []webrtc.ICECandidateInit {
	out := l.pending
	l.pending = nil
	return out
}

func (l *MeshLink) Queued() int { return len(l.pending) }

// Registry is the arena of mesh links keyed by peer id.
type Registry struct {
	mu    sync.RWMutex
	links map[domain.UserID]*MeshLink
}

func NewRegistry() *Registry {
	return &Registry{
		links: make(map[domain.UserID]*MeshLink),
	}
}

func (r *Registry) Get(peer domain.UserID) (*MeshLink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.links[peer]
	return l, ok
}

func (r *Registry) Put(l *MeshLink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[l.PeerID] = l
	log.Debug().Str("module", "app.registry").Str("peer", string(l.PeerID)).Str("role", l.Role.String()).Msg("link bound")
}

func (r *Registry) Remove(peer domain.UserID) (*MeshLink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[peer]
	if ok {
		delete(r.links, peer)
		log.Debug().Str("module", "app.registry").Str("peer", string(peer)).Msg("link unbound")
	}
	return l, ok
}

// IsCurrent reports whether conn is still the connection bound to peer.
// Callbacks from replaced or closed connections fail this check.
func (r *Registry) IsCurrent(peer domain.UserID, conn core.MediaConnection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.links[peer]
	return ok && l.Conn == conn
}

// Peers returns the linked peer ids in ascending order.
func (r *Registry) Peers() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.links))
	for id := range r.links {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return domain.Less(out[i], out[j]) })
	return out
}

func (r *Registry) Links() []*MeshLink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*MeshLink, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return domain.Less(out[i].PeerID, out[j].PeerID) })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}

// Clear unbinds every link and returns them for closing.
func (r *Registry) Clear() []*MeshLink {
	out := r.Links()
	r.mu.Lock()
	r.links = make(map[domain.UserID]*MeshLink)
	r.mu.Unlock()
	return out
}
