// Package playout keeps the remote streams of a huddle, one per source.
package playout

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/rs/zerolog/log"
)

// StreamInfo is the published view of a remote stream.
type StreamInfo struct {
	SourceID string   `json:"source_id"`
	Label    string   `json:"label,omitempty"`
	TrackID  string   `json:"track_id"`
	StreamID string   `json:"stream_id"`
	Kind     string   `json:"kind"`
	Packets  uint64   `json:"packets"`
	Bytes    uint64   `json:"bytes"`
	Sinks    []string `json:"sinks,omitempty"`
}

// Set owns the remote streams keyed by source id. A source id is the peer id
// in mesh mode and a synthetic id per track in sfu mode.
type Set struct {
	mu      sync.RWMutex
	streams map[string]*Stream

	// onEnded runs on the stream goroutine when a track ends by itself.
	onEnded func(*Stream)
}

func NewSet(onEnded func(*Stream)) *Set {
	return &Set{
		streams: make(map[string]*Stream),
		onEnded: onEnded,
	}
}

// Start begins draining track under sourceID, replacing any previous stream.
func (s *Set) Start(ctx context.Context, sourceID, label string, track core.RemoteTrack) *Stream {
	logger := log.With().
		Str("module", "playout").
		Str("source", sourceID).
		Str("track", track.ID()).
		Logger()

	streamCtx, cancel := context.WithCancel(ctx)
	stream := newStream(sourceID, label, track, cancel)

	s.mu.Lock()
	if old, ok := s.streams[sourceID]; ok {
		logger.Info().Msg("replacing existing stream for source")
		old.stop()
	}
	s.streams[sourceID] = stream
	s.mu.Unlock()

	logger.Info().Str("label", label).Msg("remote stream started")
	go stream.loop(streamCtx, &logger, s.onEnded)
	return stream
}

// Current reports whether stream is still the one registered for its source.
func (s *Set) Current(stream *Stream) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[stream.SourceID] == stream
}

// Stop removes and stops the stream of sourceID.
func (s *Set) Stop(sourceID string) bool {
	s.mu.Lock()
	stream, ok := s.streams[sourceID]
	if ok {
		delete(s.streams, sourceID)
	}
	s.mu.Unlock()
	if ok {
		stream.stop()
	}
	return ok
}

func (s *Set) StopAll() {
	s.mu.Lock()
	old := s.streams
	s.streams = make(map[string]*Stream)
	s.mu.Unlock()
	for _, stream := range old {
		stream.stop()
	}
}

// AddSink attaches sink under name to the stream of sourceID.
func (s *Set) AddSink(sourceID, name string, sink Sink) bool {
	stream, ok := s.get(sourceID)
	if !ok {
		return false
	}
	stream.attach(name, NewOutput(sink))
	return true
}

func (s *Set) MuteSink(sourceID, name string, muted bool) bool {
	stream, ok := s.get(sourceID)
	if !ok {
		return false
	}
	out, ok := stream.output(name)
	if !ok {
		return false
	}
	if muted {
		out.MarkMuted()
	} else {
		out.MarkOk()
	}
	return true
}

func (s *Set) RemoveSink(sourceID, name string) bool {
	stream, ok := s.get(sourceID)
	if !ok {
		return false
	}
	out, ok := stream.output(name)
	if !ok {
		return false
	}
	out.MarkDelete()
	return true
}

// List returns every stream ordered by source id.
func (s *Set) List() []StreamInfo {
	s.mu.RLock()
	out := make([]StreamInfo, 0, len(s.streams))
	for id, st := range s.streams {
		out = append(out, StreamInfo{
			SourceID: id,
			Label:    st.Label,
			TrackID:  st.Track.ID(),
			StreamID: st.Track.StreamID(),
			Kind:     st.Track.Kind().String(),
			Packets:  st.Packets(),
			Bytes:    st.Bytes(),
			Sinks:    st.sinks(),
		})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams)
}

func (s *Set) get(sourceID string) (*Stream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[sourceID]
	return st, ok
}
