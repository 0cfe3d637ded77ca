package media

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/huddle/internal/core"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Silence captures nothing: it sends Opus silence frames.
type Silence struct {
	StreamID string
	Clock    clock.Clock
}

var _ core.MediaSource = Silence{}

func (s Silence) Acquire(ctx context.Context) (core.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	track, err := newOpusTrack(s.StreamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMediaAccessDenied, err)
	}
	clk := s.Clock
	if clk == nil {
		clk = clock.New()
	}
	next := func() (pionmedia.Sample, bool) {
		return pionmedia.Sample{Data: opusSilence, Duration: frameDuration}, true
	}
	return startCapture(clk, track, next, nil), nil
}
