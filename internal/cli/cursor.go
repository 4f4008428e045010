package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-matrix-sync/config"
	"github.com/c0deZ3R0/go-matrix-sync/cursor"
	"github.com/c0deZ3R0/go-matrix-sync/storage/postgres"
)

// NewCursorCommand creates the cursor command group.
func NewCursorCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect and reset persisted batch tokens",
		Long: `Inspect and reset the batch tokens kept in the configured cursor store.

Tokens are keyed by track name; with a sync namespace configured the tracks
are "<namespace>/loop" and "<namespace>/once".`,
	}

	cmd.AddCommand(newCursorListCommand(rootOpts))
	cmd.AddCommand(newCursorResetCommand(rootOpts))
	cmd.AddCommand(newCursorWatchCommand(rootOpts))
	return cmd
}

func newCursorListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List stored batch tokens",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInspector(opts, func(store cursor.Inspector) error {
				all, err := store.List(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list cursors", err)
				}
				p := &printer{format: opts.Format, w: cmd.OutOrStdout()}
				return p.tokens(all)
			})
		},
	}
}

func newCursorResetCommand(opts *RootOptions) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "reset <track>",
		Short: "Forget the batch token of a track",
		Long: `Forget the batch token of a track so its next sync starts from scratch.

The track name is resolved under the configured namespace unless --raw is
given.

Example:
  syncd cursor reset loop
  syncd cursor reset --raw bot/once`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !raw {
				name = opts.Config.TrackName(name)
			}
			return withInspector(opts, func(store cursor.Inspector) error {
				if err := store.Reset(cmd.Context(), name); err != nil {
					return WrapExitError(ExitFailure, "failed to reset cursor", err)
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", name)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "use the track name as given, without the namespace")
	return cmd
}

func newCursorWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [track]",
		Short: "Follow token updates published by the postgres store",
		Long: `Follow batch token updates announced over PostgreSQL LISTEN/NOTIFY.

Only available with the postgres store driver. Without a track argument every
update on the channel is printed.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Config.Store.Driver != config.DriverPostgres {
				return NewExitError(ExitCommandError, "cursor watch requires the postgres store driver")
			}
			var track string
			if len(args) == 1 {
				track = opts.Config.TrackName(args[0])
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watchTokens(ctx, opts, track, cmd)
		},
	}
}

func watchTokens(ctx context.Context, opts *RootOptions, track string, cmd *cobra.Command) error {
	store, err := opts.Config.OpenStore(opts.Logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open cursor store", err)
	}
	defer store.Close()

	pg, ok := store.(*postgres.Store)
	if !ok {
		return NewExitError(ExitCommandError, "cursor watch requires the postgres store driver")
	}
	listener, err := pg.NewListener()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create token listener", err)
	}
	defer listener.Close()

	p := &printer{format: opts.Format, w: cmd.OutOrStdout()}
	unsubscribe := listener.Subscribe(track, p.update)
	defer unsubscribe()

	if err := listener.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to listen for token updates", err)
	}
	opts.Logger.Info("Watching batch tokens", "track", track)
	<-ctx.Done()
	return nil
}

// withInspector opens the configured store and runs fn against it.
func withInspector(opts *RootOptions, fn func(cursor.Inspector) error) error {
	store, err := opts.Config.OpenStore(opts.Logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open cursor store", err)
	}
	defer store.Close()

	inspector, ok := store.(cursor.Inspector)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("store driver %q cannot list cursors", opts.Config.Store.Driver))
	}
	return fn(inspector)
}
