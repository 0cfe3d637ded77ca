package rtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
)

type apiOptions struct {
	net           transport.Net
	loggerFactory logging.LoggerFactory
	portMin       uint16
	portMax       uint16
}

type APIOption func(*apiOptions)

// WithNet routes all ICE traffic through n, e.g. a vnet.Net in tests.
func WithNet(n transport.Net) APIOption {
	return func(o *apiOptions) { o.net = n }
}

func WithLoggerFactory(f logging.LoggerFactory) APIOption {
	return func(o *apiOptions) { o.loggerFactory = f }
}

// WithUDPPortRange limits the local UDP ports used for ICE.
func WithUDPPortRange(lo, hi uint16) APIOption {
	return func(o *apiOptions) { o.portMin, o.portMax = lo, hi }
}

// NewAPI builds a pion API with the default codecs and interceptors.
func NewAPI(opts ...APIOption) (*webrtc.API, error) {
	o := apiOptions{loggerFactory: NewLoggerFactory()}
	for _, opt := range opts {
		opt(&o)
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: o.loggerFactory}
	if o.net != nil {
		se.SetNet(o.net)
	}
	if o.portMin != 0 || o.portMax != 0 {
		if err := se.SetEphemeralUDPPortRange(o.portMin, o.portMax); err != nil {
			return nil, fmt.Errorf("udp port range: %w", err)
		}
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}
