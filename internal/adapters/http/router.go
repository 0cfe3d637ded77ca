package http

import (
	"os"

	"github.com/dkeye/huddle/internal/config"
	transport "github.com/dkeye/huddle/internal/transport/http"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// SetupRouter builds the local control API for a UI process.
func SetupRouter(cfg *config.Config, h transport.Huddle) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("HuddleSessions", store))

	if fi, err := os.Stat(cfg.StaticPath); err == nil && fi.IsDir() {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	hd := &transport.Handlers{Huddle: h}
	api := r.Group("/api/huddle")
	api.GET("", hd.State)
	api.POST("/start", hd.Start)
	api.POST("/stop", hd.Stop)
	api.GET("/streams", hd.Streams)
	api.GET("/stats", hd.Stats)
	api.POST("/streams/:source/sinks/:sink/mute", hd.Mute)

	return r
}
