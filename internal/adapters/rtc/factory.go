package rtc

import (
	"context"

	"github.com/dkeye/huddle/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Factory builds connections from one pion API, asking ice for servers each time.
type Factory struct {
	api *webrtc.API
	ice core.ICEProvider
}

func NewFactory(api *webrtc.API, ice core.ICEProvider) *Factory {
	return &Factory{api: api, ice: ice}
}

func (f *Factory) NewConnection(ctx context.Context, label string) (core.MediaConnection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.servers(ctx)})
	if err != nil {
		return nil, err
	}
	return NewConnection(pc, label), nil
}

func (f *Factory) servers(ctx context.Context) []webrtc.ICEServer {
	if f.ice == nil {
		return DefaultICEServers()
	}
	servers, err := f.ice.ICEServers(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "webrtc").Msg("ICE provider failed, using public STUN")
		return DefaultICEServers()
	}
	if len(servers) == 0 {
		return DefaultICEServers()
	}
	return servers
}
