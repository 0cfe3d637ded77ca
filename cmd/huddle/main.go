package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/huddle/internal/adapters/http"
	"github.com/dkeye/huddle/internal/adapters/media"
	"github.com/dkeye/huddle/internal/adapters/rtc"
	sig "github.com/dkeye/huddle/internal/adapters/signal"
	"github.com/dkeye/huddle/internal/app/huddle"
	"github.com/dkeye/huddle/internal/app/playout"
	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

const meterSink = "meter"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	loader, err := config.NewLoader(config.Path())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg := loader.Current()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	servers, err := iceServers(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid ice_servers")
	}
	ice, err := rtc.NewStaticICE(servers)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid ice_servers")
	}
	loader.Watch(func(next *config.Config) {
		zerolog.SetGlobalLevel(next.Level())
		servers, err := iceServers(next)
		if err == nil {
			err = ice.Set(servers)
		}
		if err != nil {
			log.Warn().Err(err).Msg("ice_servers reload rejected")
		}
	})

	var apiOpts []rtc.APIOption
	if cfg.UDPPortMax != 0 {
		apiOpts = append(apiOpts, rtc.WithUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax))
	}
	api, err := rtc.NewAPI(apiOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api")
	}

	client, err := sig.Dial(ctx, cfg.SignalingURL, sig.Options{
		Token:      cfg.Token,
		PingPeriod: cfg.PingPeriod,
		ReadLimit:  cfg.ReadLimit,
		JoinLimit:  cfg.JoinLimit,
		JoinWindow: cfg.JoinWindow,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("signaling")
	}
	go func() {
		if err := client.Run(ctx); err != nil {
			log.Error().Err(err).Msg("signaling connection lost")
		}
		cancel()
	}()

	ctrl := huddle.New(client, rtc.NewFactory(api, ice), mediaSource(cfg), huddle.Options{
		Self:          domain.UserID(cfg.UserID),
		GracePeriod:   cfg.GracePeriod,
		StatsInterval: cfg.StatsInterval,
		GatherTimeout: cfg.GatherTimeout,
	})
	ctrl.OnChange(func(s huddle.State) { attachMeters(ctrl, s) })
	go ctrl.Run(ctx)

	if cfg.AutoJoinRoom != "" {
		go func() {
			if err := ctrl.Start(ctx, domain.RoomID(cfg.AutoJoinRoom)); err != nil {
				log.Error().Err(err).Str("room", cfg.AutoJoinRoom).Msg("auto join failed")
			}
		}()
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.SetupRouter(cfg, ctrl),
	}

	go func() {
		log.Info().Str("addr", addr).Str("user", cfg.UserID).Msg("Huddle client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	select {
	case <-ctrl.Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("huddle teardown timed out")
	}
	log.Info().Msg("Huddle client exited gracefully")
}

func iceServers(cfg *config.Config) ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		out = append(out, rtc.NewICEServer(s.URLs, s.Username, s.Credential))
	}
	return rtc.ResolveICEServers(cfg.ICEServersJSON, out)
}

func mediaSource(cfg *config.Config) core.MediaSource {
	if cfg.Media.Source == "file" {
		return media.OggFile{Path: cfg.Media.File, StreamID: cfg.UserID, Loop: cfg.Media.Loop}
	}
	return media.Silence{StreamID: cfg.UserID}
}

// attachMeters gives every new remote stream a counting sink that the API can mute.
func attachMeters(ctrl *huddle.Controller, s huddle.State) {
	for _, st := range s.Streams {
		if hasSink(st, meterSink) {
			continue
		}
		ctrl.AddSink(st.SourceID, meterSink, &playout.Meter{})
	}
}

func hasSink(st playout.StreamInfo, name string) bool {
	for _, n := range st.Sinks {
		if n == name {
			return true
		}
	}
	return false
}
