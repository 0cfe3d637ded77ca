package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/dkeye/huddle/internal/app/huddle"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const lastRoomKey = "last_room"

// Huddle is the part of the controller the control API drives.
type Huddle interface {
	Start(ctx context.Context, room domain.RoomID) error
	Stop(ctx context.Context) error
	State() huddle.State
	MuteSink(sourceID, name string, muted bool) bool
}

type StartRequest struct {
	Room string `json:"room"`
}

type MuteRequest struct {
	Muted bool `json:"muted"`
}

type Handlers struct {
	Huddle Huddle
}

func (h *Handlers) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.Huddle.State())
}

func (h *Handlers) Streams(c *gin.Context) {
	c.JSON(http.StatusOK, h.Huddle.State().Streams)
}

func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Huddle.State().Stats)
}

// Start joins req.Room, or the room this client last started when the body is empty.
func (h *Handlers) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	sess := sessions.Default(c)
	room := req.Room
	if room == "" {
		room, _ = sess.Get(lastRoomKey).(string)
	}
	if room == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing room"})
		return
	}

	log.Info().Str("module", "transport.http").Str("room", room).Msg("start requested")
	if err := h.Huddle.Start(c.Request.Context(), domain.RoomID(room)); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	sess.Set(lastRoomKey, room)
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "transport.http").Msg("session save")
	}
	c.JSON(http.StatusOK, h.Huddle.State())
}

func (h *Handlers) Stop(c *gin.Context) {
	log.Info().Str("module", "transport.http").Msg("stop requested")
	if err := h.Huddle.Stop(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.Huddle.State())
}

func (h *Handlers) Mute(c *gin.Context) {
	var req MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if !h.Huddle.MuteSink(c.Param("source"), c.Param("sink"), req.Muted) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such sink"})
		return
	}
	c.Status(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrMediaAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, core.ErrStartCancelled):
		return http.StatusConflict
	case errors.Is(err, core.ErrLoopClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}
