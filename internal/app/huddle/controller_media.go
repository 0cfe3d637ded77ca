package huddle

import (
	"github.com/dkeye/huddle/internal/app/playout"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (c *Controller) onMeshTrack(peer domain.UserID, track core.RemoteTrack) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		log.Debug().Str("module", "huddle").Str("peer", string(peer)).Str("kind", track.Kind().String()).Msg("ignoring non-audio track")
		return
	}
	c.streams.Start(c.ctx, string(peer), c.roster.DisplayName(peer), track)
	c.publish()
}

func (c *Controller) onLinkRemoved(peer domain.UserID, err error) {
	c.streams.Stop(string(peer))
	c.stats.Forget(meshKey(peer))
	if err != nil {
		c.lastErr = err.Error()
	}
	c.publish()
}

func (c *Controller) onSFUTrack(sourceID, label string, track core.RemoteTrack) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	c.streams.Start(c.ctx, sourceID, label, track)
	c.publish()
}

// onSFUFailed keeps the huddle active in sfu mode; a new upgrade or a stop follows.
func (c *Controller) onSFUFailed(err error) {
	c.streams.StopAll()
	c.stats.Reset()
	c.lastErr = err.Error()
	c.publish()
}

// onStreamEnded runs on the stream goroutine.
func (c *Controller) onStreamEnded(s *playout.Stream) {
	c.loop.Post(func() {
		if !c.streams.Current(s) {
			return
		}
		c.streams.Stop(s.SourceID)
		c.publish()
	})
}

// sampleStats polls every connected connection. Failures skip that connection for this cycle.
func (c *Controller) sampleStats() {
	if !c.session.Active {
		return
	}
	now := c.clock.Now()
	for _, l := range c.registry.Links() {
		if l.Conn.State() != webrtc.PeerConnectionStateConnected {
			continue
		}
		snap, err := c.stats.Sample(meshKey(l.PeerID), l.Conn.Stats(), now)
		if err != nil {
			log.Debug().Err(err).Str("module", "huddle").Str("peer", string(l.PeerID)).Msg("stats skipped")
			continue
		}
		l.LastStats = &snap
	}
	for label, conn := range c.sfu.Connections() {
		if conn.State() != webrtc.PeerConnectionStateConnected {
			continue
		}
		if _, err := c.stats.Sample(label, conn.Stats(), now); err != nil {
			log.Debug().Err(err).Str("module", "huddle").Str("conn", label).Msg("stats skipped")
		}
	}
	c.publish()
}
