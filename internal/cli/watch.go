package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mossy-p/livecast/internal/discovery"
	"github.com/mossy-p/livecast/internal/models"
	"github.com/mossy-p/livecast/internal/sink"
	"github.com/mossy-p/livecast/internal/viewer"
)

// Keyframe requests let a viewer joining mid-stream decode quickly.
const watchPLIInterval = 3 * time.Second

type watchOptions struct {
	target     string
	self       string
	rotate     bool
	statsEvery time.Duration
}

func newWatchCommand(o *options) *cobra.Command {
	var w watchOptions

	cmd := &cobra.Command{
		Use:     "watch [streamer-id]",
		Aliases: []string{"w"},
		Short:   "Watch a streamer, or whoever is live",
		Long: `Watch streamer-id, or follow the live pool when no id is given: the pool
picks a random live streamer, keeps it while it stays live (or rotates with
--rotate) and moves on when it goes offline.

Examples:
  livecast watch sam
  livecast watch --self kim
  livecast watch --rotate`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				w.target = args[0]
			}
			return runWatch(cmd, o, w)
		},
	}

	cmd.Flags().StringVar(&w.self, "self", "", "Your identity; anonymous when empty")
	cmd.Flags().BoolVar(&w.rotate, "rotate", false, "Switch to a random live streamer on every refresh")
	cmd.Flags().DurationVar(&w.statsEvery, "stats", 5*time.Second, "How often to print receive statistics")
	return cmd
}

func runWatch(cmd *cobra.Command, o *options, w watchOptions) error {
	ctx := cmd.Context()
	out := newPrinter(cmd.OutOrStdout())

	rt, err := o.open(ctx, cmd, w.self)
	if err != nil {
		return err
	}
	defer rt.Close()

	factory, err := rt.peerFactory(watchPLIInterval)
	if err != nil {
		return err
	}

	stats := &sink.StatsSink{LoggerFactory: rt.lf}
	statuses := make(chan viewer.Status, 32)
	relayCtx, stopRelay := context.WithCancel(ctx)

	identity := viewer.AnonymousID
	if w.self != "" {
		identity = func() string { return w.self }
	}

	sess := viewer.New(viewer.Config{
		Transport:        rt.transport,
		PeerFactory:      factory,
		Sink:             stats,
		Identity:         identity,
		OfferTimeout:     rt.cfg.Viewer.OfferTimeout,
		ReconnectDelay:   rt.cfg.Viewer.ReconnectDelay,
		MaxAttempts:      rt.cfg.Viewer.MaxReconnectAttempts,
		HandshakeTimeout: rt.cfg.Signal.HandshakeTimeout,
		OnStatus:         forwardStatus(relayCtx, statuses),
		LoggerFactory:    rt.lf,
	})
	defer sess.CloseViewer()
	// runs before CloseViewer so its closed status cannot block
	defer stopRelay()

	var pool *discovery.Pool
	if w.target != "" {
		if err := sess.OpenForStreamer(w.target); err != nil {
			return err
		}
	} else {
		policy := discovery.PolicySticky
		if w.rotate {
			policy = discovery.PolicyRotate
		}
		pool = discovery.New(discovery.Config{
			Directory:    rt.dir,
			Self:         w.self,
			Interval:     rt.cfg.Discovery.RotationInterval,
			SoloInterval: rt.cfg.Discovery.SoloRotationInterval,
			Policy:       policy,
			OnChange: func(current *models.DirectoryEntry) {
				stats.Reset()
				if current == nil {
					sess.CloseViewer()
					out.Printf("Nobody is live, waiting...\n")
					return
				}
				out.Printf("Watching %s\n", label(*current))
				sess.OpenForStreamer(current.ID)
			},
			LoggerFactory: rt.lf,
		})
		pool.Start(ctx)
		defer pool.Stop()
	}

	ticker := time.NewTicker(w.statsEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case st := <-statuses:
			out.Printf("%s\n", describe(st))
			switch st.State {
			case viewer.StateError:
				if pool == nil {
					return fmt.Errorf("watch %s: %w", st.StreamerID, st.Err)
				}
				// OnChange may emit statuses this loop has to drain
				go pool.PickRandom()
			case viewer.StateClosed:
				if pool == nil {
					return nil
				}
			}

		case <-ticker.C:
			renderStats(out, stats.Stats())
		}
	}
}

// forwardStatus relays statuses into out. Transitional states are dropped
// while out is full; error and closed wait for room until ctx ends.
func forwardStatus(ctx context.Context, out chan<- viewer.Status) func(viewer.Status) {
	return func(st viewer.Status) {
		if st.State == viewer.StateError || st.State == viewer.StateClosed {
			select {
			case out <- st:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- st:
		default:
		}
	}
}

func label(e models.DirectoryEntry) string {
	if e.DisplayName != "" {
		return fmt.Sprintf("%s (%s)", e.DisplayName, e.ID)
	}
	return e.ID
}

func describe(st viewer.Status) string {
	s := fmt.Sprintf("[%s] %s", st.StreamerID, st.State)
	if st.Attempt > 0 {
		s += fmt.Sprintf(" (attempt %d)", st.Attempt)
	}
	if st.Reason != "" {
		s += ": " + st.Reason
	}
	return s
}
