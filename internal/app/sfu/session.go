package sfu

import (
	"github.com/dkeye/huddle/internal/core"
	"github.com/google/uuid"
)

// Session is the client side of one SFU session: a publish connection that
// carries local audio up and a subscribe connection the server renegotiates
// whenever the forwarded track set changes.
type Session struct {
	ID        string
	Publish   core.MediaConnection
	Subscribe core.MediaConnection

	// negotiating is held from the subscribe request until the server confirms
	// the cycle or reports an error. pending remembers one request that arrived
	// meanwhile; further requests coalesce into it.
	negotiating bool
	pending     bool

	labels  map[string]string // track name -> user name
	sources map[string]string // remote track id -> synthetic source id

	done chan struct{}
}

func newSession(id string) *Session {
	return &Session{
		ID:      id,
		labels:  make(map[string]string),
		sources: make(map[string]string),
		done:    make(chan struct{}),
	}
}

// sourceFor returns the stable synthetic id of a remote track.
func (s *Session) sourceFor(trackID string) string {
	if id, ok := s.sources[trackID]; ok {
		return id
	}
	id := "sfu-" + uuid.NewString()
	s.sources[trackID] = id
	return id
}

func (s *Session) label(trackID, streamID string) string {
	if l, ok := s.labels[trackID]; ok {
		return l
	}
	return s.labels[streamID]
}

func (s *Session) close() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	if s.Publish != nil {
		s.Publish.Close()
	}
	if s.Subscribe != nil {
		s.Subscribe.Close()
	}
}
