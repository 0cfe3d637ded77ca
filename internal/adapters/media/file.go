package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/huddle/internal/core"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

const opusSampleRate = 48000

// OggFile plays an Ogg/Opus file as the microphone, restarting at EOF when Loop is set.
type OggFile struct {
	Path     string
	StreamID string
	Loop     bool
	Clock    clock.Clock
}

var _ core.MediaSource = OggFile{}

func (s OggFile) Acquire(ctx context.Context) (core.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMediaAccessDenied, err)
	}
	reader, header, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %w", core.ErrMediaAccessDenied, s.Path, err)
	}
	track, err := newOpusTrack(s.StreamID)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %w", core.ErrMediaAccessDenied, err)
	}
	log.Info().
		Str("module", "media").
		Str("path", s.Path).
		Uint8("channels", header.Channels).
		Uint32("sample_rate", header.SampleRate).
		Msg("playing ogg file")

	p := &oggPlayer{f: f, reader: reader, loop: s.Loop}
	clk := s.Clock
	if clk == nil {
		clk = clock.New()
	}
	return startCapture(clk, track, p.next, func() { _ = f.Close() }), nil
}

type oggPlayer struct {
	f           *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
	loop        bool
	ended       bool
}

func (p *oggPlayer) next() (pionmedia.Sample, bool) {
	if p.ended {
		return pionmedia.Sample{}, false
	}
	for {
		page, header, err := p.reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if !p.loop || !p.rewind() {
				p.ended = true
				return pionmedia.Sample{}, false
			}
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("ogg page")
			p.ended = true
			return pionmedia.Sample{}, false
		}
		if bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}
		samples := header.GranulePosition - p.lastGranule
		p.lastGranule = header.GranulePosition
		d := time.Duration(samples) * time.Second / opusSampleRate
		if d <= 0 {
			d = frameDuration
		}
		return pionmedia.Sample{Data: page, Duration: d}, true
	}
}

func (p *oggPlayer) rewind() bool {
	if _, err := p.f.Seek(0, io.SeekStart); err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("ogg rewind")
		return false
	}
	reader, _, err := oggreader.NewWith(p.f)
	if err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("ogg rewind")
		return false
	}
	p.reader = reader
	p.lastGranule = 0
	return true
}
