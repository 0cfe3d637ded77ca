package playout

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

// Sink consumes the RTP packets of one remote stream.
// *webrtc.TrackLocalStaticRTP satisfies it.
type Sink interface {
	WriteRTP(p *rtp.Packet) error
}

type SinkState int32

const (
	SinkOk SinkState = iota
	SinkMuted
	SinkDelete
)

// Output is a sink attached to a stream together with its delivery state.
type Output struct {
	Sink  Sink
	state atomic.Int32 // Zero by default (SinkOk)
}

func NewOutput(sink Sink) *Output {
	return &Output{Sink: sink}
}

func (o *Output) State() SinkState { return SinkState(o.state.Load()) }
func (o *Output) MarkOk()          { o.state.Store(int32(SinkOk)) }
func (o *Output) MarkMuted()       { o.state.Store(int32(SinkMuted)) }
func (o *Output) MarkDelete()      { o.state.Store(int32(SinkDelete)) }

// Meter is a sink that only counts what it receives.
type Meter struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (m *Meter) WriteRTP(p *rtp.Packet) error {
	m.packets.Add(1)
	m.bytes.Add(uint64(len(p.Payload)))
	return nil
}

func (m *Meter) Packets() uint64 { return m.packets.Load() }
func (m *Meter) Bytes() uint64   { return m.bytes.Load() }
