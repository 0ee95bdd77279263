package peer

import (
	"fmt"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// ICEConfig lists the STUN/TURN servers offered to every connection
type ICEConfig struct {
	STUNServers  []string
	TURNServer   string
	TURNUsername string
	TURNPassword string
	ForceRelay   bool
}

// Configuration builds the pion configuration for c.
func (c ICEConfig) Configuration() webrtc.Configuration {
	var servers []webrtc.ICEServer
	for _, u := range c.STUNServers {
		if u != "" {
			servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
		}
	}
	if c.TURNServer != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{c.TURNServer},
			Username:   c.TURNUsername,
			Credential: c.TURNPassword,
		})
	}

	cfg := webrtc.Configuration{ICEServers: servers}
	if c.ForceRelay && c.TURNServer != "" {
		cfg.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	return cfg
}

// FactoryOptions configures the pion API behind NewFactory.
type FactoryOptions struct {
	ICE ICEConfig

	// PLIInterval makes receivers request a keyframe periodically so a
	// viewer joining mid-stream gets a picture quickly. Zero disables it.
	PLIInterval time.Duration

	// IncludeLoopback gathers 127.0.0.1 candidates; used for same-host runs.
	IncludeLoopback bool
	NetworkTypes    []webrtc.NetworkType
	DisableMDNS     bool

	LoggerFactory logging.LoggerFactory
}

// NewFactory builds one pion API and returns a Factory creating
// connections from it.
func NewFactory(opts FactoryOptions) (Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	if opts.PLIInterval > 0 {
		pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(opts.PLIInterval))
		if err != nil {
			return nil, fmt.Errorf("pli interceptor: %w", err)
		}
		i.Add(pli)
	}

	s := webrtc.SettingEngine{}
	if opts.LoggerFactory != nil {
		s.LoggerFactory = opts.LoggerFactory
	}
	if opts.IncludeLoopback {
		s.SetIncludeLoopbackCandidate(true)
	}
	if len(opts.NetworkTypes) > 0 {
		s.SetNetworkTypes(opts.NetworkTypes)
	}
	if opts.DisableMDNS {
		s.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(s),
	)
	cfg := opts.ICE.Configuration()

	return func() (Connection, error) {
		pc, err := api.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}
		return Wrap(pc), nil
	}, nil
}
