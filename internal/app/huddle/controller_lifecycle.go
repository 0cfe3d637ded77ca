package huddle

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// Start joins room. It is a no-op while a huddle is active or starting.
// The microphone is acquired off the loop; if Stop runs meanwhile the media
// is released and ErrStartCancelled is returned.
func (c *Controller) Start(ctx context.Context, room domain.RoomID) error {
	var (
		token uint64
		busy  bool
	)
	// The claim always runs to completion; ctx is checked inside it.
	if err := c.loop.Do(context.Background(), func() {
		if c.session.Active || c.starting != 0 {
			busy = true
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.gen++
		token = c.gen
		c.starting = token
	}); err != nil {
		return err
	}
	if !busy && token == 0 {
		return ctx.Err()
	}
	if busy {
		log.Debug().Str("module", "huddle").Str("room", string(room)).Msg("start ignored, huddle busy")
		return nil
	}

	media, err := c.mic.Acquire(ctx)
	if err != nil {
		_ = c.loop.Do(context.Background(), func() {
			if c.starting == token {
				c.starting = 0
			}
		})
		if !errors.Is(err, core.ErrMediaAccessDenied) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", core.ErrMediaAccessDenied, err)
		}
		log.Warn().Err(err).Str("module", "huddle").Str("room", string(room)).Msg("microphone unavailable")
		return fmt.Errorf("huddle: start %s: %w", room, err)
	}

	var (
		activated bool
		joinErr   error
	)
	err = c.loop.Do(context.Background(), func() {
		if c.starting != token {
			return
		}
		c.starting = 0
		joinErr = c.activate(room, media)
		activated = joinErr == nil
	})
	if !activated {
		media.Stop()
		if joinErr != nil {
			return fmt.Errorf("huddle: join %s: %w", room, joinErr)
		}
		if err != nil {
			return err
		}
		return core.ErrStartCancelled
	}
	return nil
}

// Stop leaves the huddle. It is safe from any state and may be called repeatedly.
func (c *Controller) Stop(ctx context.Context) error {
	err := c.loop.Do(ctx, c.stop)
	if errors.Is(err, core.ErrLoopClosed) {
		// Run tore everything down on exit.
		return nil
	}
	return err
}

// activate creates the session and sends the join. If the join cannot be sent
// nothing is kept and the caller still owns media.
func (c *Controller) activate(room domain.RoomID, media core.LocalMedia) error {
	c.media = media
	c.session = domain.Session{
		RoomID:   room,
		Mode:     domain.ModeMesh,
		JoinedAt: c.clock.Now(),
		Active:   true,
	}
	c.roster = domain.Roster{RoomID: room}
	c.lastErr = ""

	gen := c.gen
	c.sub = c.port.Subscribe(func(ev core.Event) {
		c.loop.Post(func() {
			if c.gen != gen || !c.session.Active {
				return
			}
			c.dispatch(ev)
		})
	})
	if err := c.port.SendJoin(room); err != nil {
		log.Warn().Err(err).Str("module", "huddle").Str("room", string(room)).Msg("send join failed")
		c.gen++
		c.sub.Unsubscribe()
		c.sub = nil
		c.media = nil
		c.session = domain.Session{}
		c.roster = domain.Roster{}
		c.lastErr = err.Error()
		c.publish()
		return err
	}
	c.poller.Start(func() { c.loop.Post(c.sampleStats) })

	log.Info().Str("module", "huddle").Str("room", string(room)).Str("self", string(c.opts.Self)).Msg("huddle started")
	c.publish()
	return nil
}

func (c *Controller) stop() {
	c.starting = 0
	c.gen++
	c.poller.Stop()
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}

	wasActive := c.session.Active
	if wasActive {
		if err := c.port.SendLeave(); err != nil {
			log.Warn().Err(err).Str("module", "huddle").Msg("send leave failed")
		}
	}

	c.mesh.CloseAll()
	c.sfu.Close()
	c.streams.StopAll()
	c.stats.Reset()
	if c.media != nil {
		c.media.Stop()
		c.media = nil
	}
	c.session = domain.Session{}
	c.roster = domain.Roster{}

	if wasActive {
		log.Info().Str("module", "huddle").Msg("huddle stopped")
	}
	c.publish()
}
