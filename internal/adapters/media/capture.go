package media

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/huddle/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const frameDuration = 20 * time.Millisecond

// nextFunc yields the next sample to write; ok=false skips this tick.
type nextFunc func() (sample pionmedia.Sample, ok bool)

// Capture is a LocalMedia with one Opus track fed at a fixed pace.
type Capture struct {
	track   *webrtc.TrackLocalStaticSample
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	frames  atomic.Uint64
	release func()
}

var _ core.LocalMedia = (*Capture)(nil)

func newOpusTrack(streamID string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio-"+uuid.NewString(), streamID,
	)
}

func startCapture(clk clock.Clock, track *webrtc.TrackLocalStaticSample, next nextFunc, closeFn func()) *Capture {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Capture{
		track:   track,
		cancel:  cancel,
		done:    make(chan struct{}),
		release: closeFn,
	}
	go c.pump(ctx, clk, next)
	return c
}

func (c *Capture) pump(ctx context.Context, clk clock.Clock, next nextFunc) {
	defer close(c.done)
	ticker := clk.Ticker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, ok := next()
			if !ok {
				continue
			}
			if err := c.track.WriteSample(sample); err != nil {
				log.Warn().Err(err).Str("module", "media").Str("track_id", c.track.ID()).Msg("write sample")
				continue
			}
			c.frames.Add(1)
		}
	}
}

func (c *Capture) Tracks() []webrtc.TrackLocal { return []webrtc.TrackLocal{c.track} }

// Stop ends the pump and releases the source. Safe to call twice.
func (c *Capture) Stop() {
	c.once.Do(func() {
		c.cancel()
		<-c.done
		if c.release != nil {
			c.release()
		}
		log.Info().Str("module", "media").Str("track_id", c.track.ID()).Uint64("frames", c.frames.Load()).Msg("capture stopped")
	})
}

// Frames counts samples written so far.
func (c *Capture) Frames() uint64 { return c.frames.Load() }
