package playout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/huddle/internal/core/coretest"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

type recordSink struct {
	mu   sync.Mutex
	seqs []uint16
	err  error
}

func (s *recordSink) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.seqs = append(s.seqs, p.SequenceNumber)
	return nil
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seqs)
}

func packet(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}, Payload: []byte{1, 2, 3}}
}

func TestSet_ForwardsToSinks(t *testing.T) {
	set := NewSet(nil)
	track := coretest.NewTrack("t1", "s1")
	stream := set.Start(context.Background(), "2", "bob", track)
	defer set.StopAll()

	sink := &recordSink{}
	require.True(t, set.AddSink("2", "speaker", sink))
	require.False(t, set.AddSink("3", "speaker", sink))

	track.Push(packet(1))
	track.Push(packet(2))
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(2), stream.Packets())
	require.Equal(t, uint64(6), stream.Bytes())

	list := set.List()
	require.Len(t, list, 1)
	require.Equal(t, "2", list[0].SourceID)
	require.Equal(t, "bob", list[0].Label)
	require.Equal(t, "audio", list[0].Kind)
	require.Equal(t, []string{"speaker"}, list[0].Sinks)
}

func TestSet_MutedSinkSkipsPackets(t *testing.T) {
	set := NewSet(nil)
	track := coretest.NewTrack("t1", "s1")
	stream := set.Start(context.Background(), "2", "", track)
	defer set.StopAll()

	sink := &recordSink{}
	set.AddSink("2", "speaker", sink)
	require.True(t, set.MuteSink("2", "speaker", true))

	track.Push(packet(1))
	require.Eventually(t, func() bool { return stream.Packets() == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, sink.count())

	set.MuteSink("2", "speaker", false)
	track.Push(packet(2))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSet_FailingSinkIsDetached(t *testing.T) {
	set := NewSet(nil)
	track := coretest.NewTrack("t1", "s1")
	set.Start(context.Background(), "2", "", track)
	defer set.StopAll()

	sink := &recordSink{err: errors.New("closed")}
	set.AddSink("2", "broken", sink)
	track.Push(packet(1))

	require.Eventually(t, func() bool { return len(set.List()[0].Sinks) == 0 }, time.Second, 5*time.Millisecond)
	require.False(t, set.RemoveSink("2", "broken"))
}

func TestSet_EndedTrackReported(t *testing.T) {
	ended := make(chan *Stream, 1)
	set := NewSet(func(s *Stream) { ended <- s })
	track := coretest.NewTrack("t1", "s1")
	stream := set.Start(context.Background(), "2", "", track)

	track.End()
	select {
	case got := <-ended:
		require.Same(t, stream, got)
		require.True(t, set.Current(got))
	case <-time.After(time.Second):
		t.Fatal("ended callback not called")
	}
}

func TestSet_StoppedStreamIsSilent(t *testing.T) {
	ended := make(chan *Stream, 1)
	set := NewSet(func(s *Stream) { ended <- s })
	track := coretest.NewTrack("t1", "s1")
	stream := set.Start(context.Background(), "2", "", track)

	require.True(t, set.Stop("2"))
	require.False(t, set.Stop("2"))
	require.False(t, set.Current(stream))
	track.End()
	<-stream.Done()

	select {
	case <-ended:
		t.Fatal("stopped stream reported as ended")
	default:
	}
}

func TestSet_ReplaceStopsOld(t *testing.T) {
	set := NewSet(nil)
	defer set.StopAll()
	first := coretest.NewTrack("t1", "s1")
	old := set.Start(context.Background(), "2", "", first)
	fresh := set.Start(context.Background(), "2", "", coretest.NewTrack("t2", "s2"))

	require.False(t, set.Current(old))
	require.True(t, set.Current(fresh))
	require.Equal(t, 1, set.Len())
	first.End()
	<-old.Done()
}

func TestMeterCounts(t *testing.T) {
	set := NewSet(nil)
	track := coretest.NewTrack("t1", "s1")
	set.Start(context.Background(), "2", "bob", track)
	defer set.StopAll()

	m := &Meter{}
	require.True(t, set.AddSink("2", "meter", m))
	track.Push(packet(1))
	require.Eventually(t, func() bool { return m.Packets() == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, set.MuteSink("2", "meter", true))
	track.Push(packet(2))
	track.Push(packet(3))
	require.Eventually(t, func() bool {
		for _, info := range set.List() {
			if info.Packets == 3 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(1), m.Packets())
	require.Equal(t, uint64(3), m.Bytes())
}
