package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"github.com/mossy-p/livecast/config"
	"github.com/mossy-p/livecast/internal/directory"
	livelog "github.com/mossy-p/livecast/internal/logging"
	"github.com/mossy-p/livecast/internal/peer"
	liveredis "github.com/mossy-p/livecast/internal/redis"
	"github.com/mossy-p/livecast/internal/signal"
)

const (
	transportWS    = "ws"
	transportRedis = "redis"
)

// options are the persistent flags shared by every command. A flag only
// overrides the environment when it was set explicitly.
type options struct {
	transport   string
	signalURL   string
	logLevel    string
	displayName string
	stun        string
	turn        string
	turnUser    string
	turnPass    string
	relay       bool
}

func (o *options) bind(root *cobra.Command) {
	f := root.PersistentFlags()
	f.StringVar(&o.transport, "transport", transportWS, "Signal transport: ws or redis (env SIGNAL_TRANSPORT)")
	f.StringVar(&o.signalURL, "signal-url", "", "Signaling server URL for the ws transport (env SIGNAL_URL)")
	f.StringVar(&o.logLevel, "log-level", "", "trace, debug, info, warn, error or off (env LOG_LEVEL)")
	f.StringVar(&o.displayName, "name", "", "Display name shown in the live directory")
	f.StringVar(&o.stun, "stun", "", "Custom STUN server (env STUN_SERVER)")
	f.StringVar(&o.turn, "turn", "", "Custom TURN server (env TURN_SERVER)")
	f.StringVar(&o.turnUser, "turn-user", "", "TURN username")
	f.StringVar(&o.turnPass, "turn-pass", "", "TURN password")
	f.BoolVar(&o.relay, "relay", false, "Force relay mode")
}

// config loads the environment and applies the flags set on cmd.
func (o *options) config(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Load()
	f := cmd.Flags()

	if f.Changed("transport") {
		cfg.Signal.Transport = o.transport
	}
	if f.Changed("signal-url") {
		cfg.Signal.URL = o.signalURL
	}
	if f.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if f.Changed("stun") {
		cfg.ICE.STUNServer = o.stun
	}
	if f.Changed("turn") {
		cfg.ICE.TURNServer = o.turn
	}
	if f.Changed("turn-user") {
		cfg.ICE.TURNUsername = o.turnUser
	}
	if f.Changed("turn-pass") {
		cfg.ICE.TURNPassword = o.turnPass
	}
	if f.Changed("relay") {
		cfg.ICE.ForceRelay = o.relay
	}

	switch cfg.Signal.Transport {
	case transportWS, transportRedis:
	default:
		return nil, fmt.Errorf("unknown transport %q (want %s or %s)", cfg.Signal.Transport, transportWS, transportRedis)
	}
	if cfg.ICE.ForceRelay && !cfg.ICE.HasTURN() {
		return nil, errors.New("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

// runtime is everything a command needs to reach the live system.
type runtime struct {
	cfg       *config.Config
	lf        logging.LoggerFactory
	transport signal.Transport
	dir       directory.Directory
	closers   []func() error
}

// open connects the selected transport and directory. identity, when
// set, is logged in on the ws transport so directory writes are accepted.
func (o *options) open(ctx context.Context, cmd *cobra.Command, identity string) (*runtime, error) {
	cfg, err := o.config(cmd)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg: cfg,
		lf:  livelog.NewFactory(cfg.LogLevel, cmd.ErrOrStderr()),
	}

	switch cfg.Signal.Transport {
	case transportRedis:
		client, err := liveredis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client.Close)
		rt.transport = signal.NewRedisTransport(client)
		rt.dir = directory.NewRedis(client, directory.RedisOptions{
			Limit:         cfg.Discovery.ListLimit,
			LoggerFactory: rt.lf,
		})

	case transportWS:
		var token string
		if identity != "" {
			httpClient := &http.Client{Timeout: cfg.Signal.HandshakeTimeout}
			if token, err = login(ctx, httpClient, cfg.Signal.URL, identity, o.displayName); err != nil {
				return nil, err
			}
		}
		header := http.Header{}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
		rt.transport = signal.NewWebSocketTransport(cfg.Signal.URL, header)
		rt.dir = directory.NewHTTP(cfg.Signal.URL, token)
	}
	return rt, nil
}

// writer returns the directory writer, carrying name when the backend
// stores display names itself.
func (rt *runtime) writer(name string) directory.Writer {
	if nw, ok := rt.dir.(directory.NamedWriter); ok && name != "" {
		return namedWriter{w: nw, name: name}
	}
	return rt.dir
}

func (rt *runtime) peerFactory(pliInterval time.Duration) (peer.Factory, error) {
	ice := rt.cfg.ICE
	return peer.NewFactory(peer.FactoryOptions{
		ICE: peer.ICEConfig{
			STUNServers:  []string{ice.STUNServer},
			TURNServer:   ice.TURNServer,
			TURNUsername: ice.TURNUsername,
			TURNPassword: ice.TURNPassword,
			ForceRelay:   ice.ForceRelay,
		},
		PLIInterval:   pliInterval,
		LoggerFactory: rt.lf,
	})
}

func (rt *runtime) Close() {
	for _, c := range rt.closers {
		c()
	}
}

type namedWriter struct {
	w    directory.NamedWriter
	name string
}

func (n namedWriter) SetLive(ctx context.Context, id string, live bool, startedAt time.Time) error {
	return n.w.SetLiveNamed(ctx, id, n.name, live, startedAt)
}
