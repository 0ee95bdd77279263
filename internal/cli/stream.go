package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mossy-p/livecast/internal/capture"
	"github.com/mossy-p/livecast/internal/models"
	"github.com/mossy-p/livecast/internal/peer"
	"github.com/mossy-p/livecast/internal/streamer"
)

const stopTimeout = 5 * time.Second

func newStreamCommand(o *options) *cobra.Command {
	var (
		id      string
		video   string
		audio   string
		noAudio bool
	)

	cmd := &cobra.Command{
		Use:     "stream",
		Aliases: []string{"live"},
		Short:   "Go live and serve every viewer that joins",
		Long: `Go live as --id. Every viewer joining live-<id> gets its own peer
connection carrying the capture. Runs until interrupted, then tells the
viewers the stream ended and clears the live flag.

Examples:
  livecast stream --id sam --video clip.ivf
  livecast stream --id sam --video clip.ivf --audio voice.ogg
  livecast stream --id sam --transport redis --no-audio --video clip.ivf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := &capture.FileSource{Video: video, Audio: audio}
			c := capture.Constraints{Video: video != "", Audio: !noAudio}
			return runStream(cmd, o, id, src, c)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Streamer identity; viewers join live-<id>")
	cmd.Flags().StringVar(&video, "video", "", "IVF file (VP8, VP9 or AV1) played in a loop")
	cmd.Flags().StringVar(&audio, "audio", "", "Ogg/Opus file played in a loop; silence when empty")
	cmd.Flags().BoolVar(&noAudio, "no-audio", false, "Do not send an audio track")
	cmd.MarkFlagRequired("id")
	return cmd
}

func runStream(cmd *cobra.Command, o *options, id string, src capture.Source, c capture.Constraints) error {
	ctx := cmd.Context()
	out := newPrinter(cmd.OutOrStdout())

	rt, err := o.open(ctx, cmd, id)
	if err != nil {
		return err
	}
	defer rt.Close()

	factory, err := rt.peerFactory(0)
	if err != nil {
		return err
	}

	lost := make(chan error, 1)
	sess := streamer.New(streamer.Config{
		Transport:        rt.transport,
		Capture:          src,
		Constraints:      c,
		PeerFactory:      factory,
		Directory:        rt.writer(o.displayName),
		HandshakeTimeout: rt.cfg.Signal.HandshakeTimeout,
		OnViewerChange: func(viewerID string, st peer.State) {
			out.Printf("viewer %s: %s\n", viewerID, st)
		},
		OnSignalLost: func(err error) {
			select {
			case lost <- err:
			default:
			}
		},
		LoggerFactory: rt.lf,
	})

	if err := sess.StartLive(ctx, id); err != nil {
		return fmt.Errorf("go live: %w", err)
	}
	out.Printf("Live as %s on %s. Press Ctrl+C to stop.\n", id, models.Topic(id))

	select {
	case <-ctx.Done():
	case err := <-lost:
		return fmt.Errorf("broadcast stopped: %w", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := sess.StopLive(stopCtx); err != nil {
		return err
	}
	out.Printf("Stream ended.\n")
	return nil
}
