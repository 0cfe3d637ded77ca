package huddle

import (
	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

func (c *Controller) dispatch(ev core.Event) {
	switch e := ev.(type) {
	case core.RosterUpdate:
		c.onRoster(e.Roster)
		if !c.session.Active {
			return
		}
	case core.PeerSignalEvent:
		if c.session.Mode != domain.ModeMesh {
			log.Debug().Str("module", "huddle").Str("from", string(e.From)).Msg("peer signal outside mesh mode")
			return
		}
		c.mesh.HandleSignal(c.ctx, e.From, e.Signal)
	case core.SFUUpgrade:
		c.onUpgrade(e)
	case core.SFUDowngrade:
		c.onDowngrade(e)
	case core.SFUPublishAnswer:
		c.sfu.HandlePublishAnswer(e.SessionID, e.SDP)
	case core.SFUSubscribeOffer:
		c.sfu.HandleSubscribeOffer(c.ctx, e.SDP, e.Tracks)
	case core.SFURenegotiateComplete:
		c.sfu.HandleRenegotiateComplete()
	case core.SFUTrackAdded:
		c.sfu.HandleTrackAdded(e.TrackName, e.UserName)
	case core.SignalingErrorEvent:
		if e.Err == nil {
			return
		}
		if !e.Err.SFU() {
			log.Debug().Err(e.Err).Str("module", "huddle").Msg("ignoring unrelated signaling error")
			return
		}
		c.lastErr = e.Err.Error()
		log.Warn().Err(e.Err).Str("module", "huddle").Msg("signaling error")
		c.sfu.HandleError(e.Err)
	}
	c.publish()
}

func (c *Controller) onRoster(r domain.Roster) {
	switch action := c.policy.OnRoster(c.session, c.clock.Now(), r, c.opts.Self); action {
	case app.IgnoreRoster:
		return
	case app.AutoLeave:
		log.Info().
			Str("module", "huddle").
			Str("room", string(r.RoomID)).
			Int("members", r.Len()).
			Msg("removed from roster, leaving")
		c.stop()
		return
	}
	c.roster = r
	if c.session.Mode == domain.ModeMesh {
		c.converge()
	}
}

// converge makes the mesh links match roster minus self.
func (c *Controller) converge() {
	plan := app.Reconcile(c.roster, c.opts.Self, c.registry.Peers())
	if plan.Empty() {
		return
	}
	for _, id := range plan.Remove {
		c.mesh.Remove(id)
	}
	for _, p := range plan.Create {
		if err := c.mesh.Ensure(c.ctx, p.ID); err != nil {
			log.Warn().Err(err).Str("module", "huddle").Str("peer", string(p.ID)).Msg("ensure link failed")
		}
	}
}

func (c *Controller) onUpgrade(e core.SFUUpgrade) {
	if e.RoomID != "" && e.RoomID != c.session.RoomID {
		return
	}
	if c.sfu.Active() {
		log.Debug().Str("module", "huddle").Msg("duplicate upgrade ignored")
		return
	}
	log.Info().
		Str("module", "huddle").
		Str("room", string(c.session.RoomID)).
		Int("links", c.registry.Len()).
		Msg("upgrading to sfu")

	// Mesh must be fully gone before the first SFU connection exists.
	c.mesh.CloseAll()
	c.streams.StopAll()
	c.stats.Reset()
	c.session.Mode = domain.ModeSFU
	if err := c.sfu.Upgrade(c.ctx, e.SessionID); err != nil {
		c.lastErr = err.Error()
	}
}

func (c *Controller) onDowngrade(e core.SFUDowngrade) {
	if e.RoomID != "" && e.RoomID != c.session.RoomID {
		return
	}
	if c.session.Mode != domain.ModeSFU {
		return
	}
	log.Info().Str("module", "huddle").Str("room", string(c.session.RoomID)).Msg("downgrading to mesh")

	c.sfu.Close()
	c.streams.StopAll()
	c.stats.Reset()
	c.session.Mode = domain.ModeMesh
	c.converge()
}
