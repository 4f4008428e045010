package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c0deZ3R0/go-matrix-sync/synckit"
	"github.com/c0deZ3R0/go-matrix-sync/synckit/types"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	Kinds       []string
	Types       []string
	Rooms       []string
	Presence    string
	Timeout     time.Duration
	Cycles      int
	StopTimeout time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the continuous sync loop",
		Long: `Run the continuous /sync loop and print every received event.

The loop resumes from the persisted batch token of the loop track and keeps
retrying failed cycles until it is interrupted. On SIGINT or SIGTERM the
in-flight cycle is allowed to finish within --stop-timeout; after that it is
aborted.

Example:
  syncd run --config syncd.yaml
  syncd run --config syncd.yaml --kind room_message --room '!abc:example.org'
  syncd run --cycles 3 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runLoop(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Kinds, "kind", nil, "only print events of these kinds")
	cmd.Flags().StringSliceVar(&opts.Types, "type", nil, "only print events of these types")
	cmd.Flags().StringSliceVar(&opts.Rooms, "room", nil, "only print events of these rooms")
	cmd.Flags().StringVar(&opts.Presence, "presence", "", "set_presence override (online|offline|unavailable)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "long-poll timeout override")
	cmd.Flags().IntVar(&opts.Cycles, "cycles", 0, "stop after this many successful cycles (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.StopTimeout, "stop-timeout", 10*time.Second, "how long to wait for the in-flight cycle on shutdown")

	return cmd
}

func runLoop(ctx context.Context, opts *RunOptions, cmd *cobra.Command) error {
	logger := opts.Logger

	filter, err := eventFilter(opts.Kinds, opts.Types, opts.Rooms)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}
	if opts.Cycles < 0 {
		return NewExitError(ExitCommandError, "--cycles must not be negative")
	}

	var extra []synckit.Option
	if opts.Config.Metrics.Enabled {
		report := newMetricsReport()
		extra, err = report.engineOptions(opts.Config)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to create metrics collector", err)
		}
		defer func() {
			if err := report.write(context.Background(), cmd.ErrOrStderr()); err != nil {
				logger.Warn("Failed to report metrics", "error", err)
			}
		}()
	}

	engine, err := opts.Config.NewEngine(logger, extra...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create sync engine", err)
	}
	defer engine.Close()

	p := &printer{format: opts.Format, w: cmd.OutOrStdout()}
	sub := engine.Subscribe(0, filter)

	enough := make(chan struct{})
	var closeEnough sync.Once
	var completed atomic.Int64
	err = engine.OnCycle(func(r synckit.CycleResult) {
		logger.Debug("Cycle completed",
			"track", r.Track,
			"next_batch", string(r.NextBatch),
			"events", r.Events,
			"attempts", r.Attempts,
			"duration", r.Duration)
		if opts.Cycles > 0 && completed.Add(1) >= int64(opts.Cycles) {
			closeEnough.Do(func() { close(enough) })
		}
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to register cycle observer", err)
	}

	if err := engine.Start(ctx, synckit.StartOptions{
		Presence: types.Presence(opts.Presence),
		Timeout:  opts.Timeout,
	}); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return WrapExitError(ExitCommandError, "failed to start sync loop", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	watchCtx, stopWatching := context.WithCancel(gctx)
	defer stopWatching()

	g.Go(func() error {
		for ev := range sub.Events() {
			if err := p.event(ev); err != nil {
				return fmt.Errorf("write event: %w", err)
			}
		}
		return nil
	})

	g.Go(func() error {
		for st := range engine.WatchState(watchCtx) {
			if st.Phase == synckit.PhaseRetrying {
				logger.Warn("Sync cycle failed, retrying", "attempt", st.Attempt, "error", st.LastError)
				continue
			}
			logger.Info("Sync state changed", "state", st.String())
		}
		return nil
	})

	g.Go(func() error {
		defer stopWatching()
		select {
		case <-gctx.Done():
		case <-enough:
		}
		shutdown(engine, opts.StopTimeout, logger.Warn)
		flushCtx, cancel := context.WithTimeout(context.Background(), opts.StopTimeout)
		defer cancel()
		if err := engine.Dispatcher().Flush(flushCtx); err != nil {
			logger.Warn("Dropping events not yet printed", "pending", sub.Pending())
		}
		// Closing the engine closes sub, which ends the event reader.
		return engine.Close()
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "sync loop failed", err)
	}
	return nil
}

// shutdown stops the loop gracefully and cancels it when that takes longer
// than timeout.
func shutdown(engine *synckit.Engine, timeout time.Duration, warn func(msg string, args ...any)) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := engine.Stop(ctx); err == nil {
		return
	}
	warn("Graceful stop timed out, cancelling in-flight cycle", "timeout", timeout)
	_ = engine.Cancel(context.Background())
}

// eventFilter builds a subscription filter from flag values.
func eventFilter(kinds, evTypes, rooms []string) (types.Filter, error) {
	f := types.Filter{Types: evTypes, Rooms: rooms}
	for _, name := range kinds {
		k, ok := types.ParseKind(name)
		if !ok {
			return types.Filter{}, fmt.Errorf("unknown event kind %q", name)
		}
		f.Kinds = append(f.Kinds, k)
	}
	return f, nil
}
