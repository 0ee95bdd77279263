// Package cli holds the livecast client commands.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// NewRootCommand builds the livecast command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "livecast",
		Short: "Broadcast and watch live WebRTC streams",
		Long: `livecast goes live as a streamer, watches a streamer, or browses who is live.

Signaling runs over the livecast server's WebSocket bridge (--transport ws)
or directly over Redis pub/sub (--transport redis). Flags override the
environment, which overrides built-in defaults.`,
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	opts.bind(root)

	root.AddCommand(
		newStreamCommand(opts),
		newWatchCommand(opts),
		newDiscoverCommand(opts),
	)
	return root
}
