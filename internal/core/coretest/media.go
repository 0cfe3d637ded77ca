package coretest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/huddle/internal/core"
	"github.com/pion/webrtc/v4"
)

// Media is a LocalMedia with one Opus track.
type Media struct {
	track   webrtc.TrackLocal
	stopped atomic.Bool
}

func NewMedia() *Media {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "coretest",
	)
	if err != nil {
		panic(err)
	}
	return &Media{track: track}
}

func (m *Media) Tracks() []webrtc.TrackLocal { return []webrtc.TrackLocal{m.track} }
func (m *Media) Stop()                       { m.stopped.Store(true) }
func (m *Media) Stopped() bool               { return m.stopped.Load() }

// Source is a MediaSource that can deny access or hold acquisition open.
type Source struct {
	Deny bool
	// Gate, when set, blocks Acquire until it is closed.
	Gate chan struct{}

	mu     sync.Mutex
	issued []*Media
}

func (s *Source) Acquire(ctx context.Context) (core.LocalMedia, error) {
	s.mu.Lock()
	deny, gate := s.Deny, s.Gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if deny {
		return nil, fmt.Errorf("coretest: %w", core.ErrMediaAccessDenied)
	}
	m := NewMedia()
	s.mu.Lock()
	s.issued = append(s.issued, m)
	s.mu.Unlock()
	return m, nil
}

// Issued returns every media handed out so far.
func (s *Source) Issued() []*Media {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Media(nil), s.issued...)
}
