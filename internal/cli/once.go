package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-matrix-sync/synckit"
	"github.com/c0deZ3R0/go-matrix-sync/synckit/types"
)

// OnceOptions holds flags for the once command.
type OnceOptions struct {
	*RootOptions

	Kinds     []string
	Types     []string
	Rooms     []string
	Presence  string
	Timeout   time.Duration
	FullState bool
	Publish   bool
}

// NewOnceCommand creates the once command.
func NewOnceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OnceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single sync cycle",
		Long: `Run exactly one /sync request on the one-shot track and print its events.

The one-shot track keeps its own batch token, independent of the loop
started by "syncd run". The token only advances when every event has been
printed.

Example:
  syncd once --config syncd.yaml
  syncd once --full-state --timeout 0s --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Kinds, "kind", nil, "only print events of these kinds")
	cmd.Flags().StringSliceVar(&opts.Types, "type", nil, "only print events of these types")
	cmd.Flags().StringSliceVar(&opts.Rooms, "room", nil, "only print events of these rooms")
	cmd.Flags().StringVar(&opts.Presence, "presence", "", "set_presence override (online|offline|unavailable)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "long-poll timeout override")
	cmd.Flags().BoolVar(&opts.FullState, "full-state", false, "request the full state of every joined room")
	cmd.Flags().BoolVar(&opts.Publish, "publish", false, "also publish the events to the engine's subscribers")

	return cmd
}

func runOnce(ctx context.Context, opts *OnceOptions, cmd *cobra.Command) error {
	filter, err := eventFilter(opts.Kinds, opts.Types, opts.Rooms)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}
	if opts.Timeout < 0 {
		return NewExitError(ExitCommandError, "--timeout must not be negative")
	}

	engine, err := opts.Config.NewEngine(opts.Logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create sync engine", err)
	}
	defer engine.Close()

	out := &printer{format: opts.Format, w: cmd.OutOrStdout()}
	start := time.Now()
	result, err := synckit.SyncOnceValue(ctx, engine, synckit.OnceOptions{
		Presence:  types.Presence(opts.Presence),
		Timeout:   opts.Timeout,
		FullState: opts.FullState,
		Publish:   opts.Publish,
	}, func(ctx context.Context, c *synckit.Cycle) (synckit.CycleResult, error) {
		for _, ev := range c.Events {
			if !filter.Matches(ev) {
				continue
			}
			if err := out.event(ev); err != nil {
				return synckit.CycleResult{}, fmt.Errorf("write event: %w", err)
			}
		}
		return synckit.CycleResult{
			Track:     opts.Config.TrackName(synckit.TrackOnce),
			Since:     c.Request.Since,
			NextBatch: c.NextBatch(),
			Events:    len(c.Events),
			Attempts:  1,
			StartTime: start,
			Duration:  time.Since(start),
		}, nil
	})
	if err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}

	summary := &printer{format: opts.Format, w: cmd.ErrOrStderr()}
	return summary.cycle(result)
}
