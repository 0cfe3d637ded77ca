package playout

import (
	"context"
	"maps"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dkeye/huddle/internal/core"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// Stream drains one remote track and forwards its packets to the attached outputs.
type Stream struct {
	SourceID string
	Label    string
	Track    core.RemoteTrack

	mu      sync.RWMutex
	outputs map[string]*Output

	packets atomic.Uint64
	bytes   atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

func newStream(sourceID, label string, track core.RemoteTrack, cancel context.CancelFunc) *Stream {
	return &Stream{
		SourceID: sourceID,
		Label:    label,
		Track:    track,
		outputs:  make(map[string]*Output),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// loop reads until the track ends or ctx is cancelled. Packets are read even
// without outputs so the receiver buffers never fill up.
func (s *Stream) loop(ctx context.Context, logger *zerolog.Logger, onEnded func(*Stream)) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.markAllDelete()
			return
		default:
		}
		pkt, _, err := s.Track.ReadRTP()
		if err != nil {
			if ctx.Err() == nil {
				logger.Debug().Err(err).Msg("remote track ended")
				s.markAllDelete()
				if onEnded != nil {
					onEnded(s)
				}
			}
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))
		s.forward(pkt, logger)
	}
}

func (s *Stream) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	s.mu.RLock()
	if len(s.outputs) == 0 {
		s.mu.RUnlock()
		return
	}
	snapshot := make(map[string]*Output, len(s.outputs))
	maps.Copy(snapshot, s.outputs)
	s.mu.RUnlock()

	var dirty []string
	for name, out := range snapshot {
		switch out.State() {
		case SinkDelete:
			dirty = append(dirty, name)
		case SinkMuted:
		case SinkOk:
			if err := out.Sink.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("sink", name).Msg("sink write failed, detaching")
				out.MarkDelete()
				dirty = append(dirty, name)
			}
		}
	}

	if len(dirty) > 0 {
		s.mu.Lock()
		for _, name := range dirty {
			delete(s.outputs, name)
		}
		s.mu.Unlock()
	}
}

func (s *Stream) markAllDelete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range s.outputs {
		out.MarkDelete()
	}
}

func (s *Stream) attach(name string, out *Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.outputs[name]; ok {
		old.MarkDelete()
	}
	s.outputs[name] = out
}

func (s *Stream) output(name string) (*Output, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.outputs[name]
	return out, ok
}

func (s *Stream) sinks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.outputs))
	for name, o := range s.outputs {
		if o.State() != SinkDelete {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Stream) stop() {
	s.markAllDelete()
	s.cancel()
}

// Done is closed once the read loop has returned.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) Packets() uint64 { return s.packets.Load() }
func (s *Stream) Bytes() uint64   { return s.bytes.Load() }
