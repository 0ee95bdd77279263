package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/mossy-p/livecast/internal/discovery"
)

func newDiscoverCommand(o *options) *cobra.Command {
	var (
		self string
		pick bool
	)

	cmd := &cobra.Command{
		Use:     "discover",
		Aliases: []string{"ls"},
		Short:   "List who is live right now",
		Long: `List live streamers, newest first.

Examples:
  livecast discover
  livecast discover --self sam --pick`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := newPrinter(cmd.OutOrStdout())

			rt, err := o.open(ctx, cmd, "")
			if err != nil {
				return err
			}
			defer rt.Close()

			pool := discovery.New(discovery.Config{
				Directory:     rt.dir,
				Self:          self,
				LoggerFactory: rt.lf,
			})
			if err := pool.Refresh(ctx); err != nil {
				return err
			}

			renderLiveTable(out, pool.Entries(), time.Now())
			if pick {
				if e := pool.PickRandom(); e != nil {
					out.Printf("Picked %s\n", label(*e))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&self, "self", "", "Your identity, left out of the list")
	cmd.Flags().BoolVar(&pick, "pick", false, "Also pick one at random")
	return cmd
}
