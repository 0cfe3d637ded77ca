package coretest

import (
	"io"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Track is a core.RemoteTrack fed by Push and ended by End.
type Track struct {
	id, streamID string
	packets      chan *rtp.Packet
	done         chan struct{}
	once         sync.Once
}

func NewTrack(id, streamID string) *Track {
	return &Track{
		id:       id,
		streamID: streamID,
		packets:  make(chan *rtp.Packet, 64),
		done:     make(chan struct{}),
	}
}

func (t *Track) ID() string                { return t.id }
func (t *Track) StreamID() string          { return t.streamID }
func (t *Track) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }

func (t *Track) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	select {
	case p := <-t.packets:
		return p, nil, nil
	case <-t.done:
		return nil, nil, io.EOF
	}
}

func (t *Track) Push(p *rtp.Packet) { t.packets <- p }

func (t *Track) End() { t.once.Do(func() { close(t.done) }) }
