package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/client/sync"
)

func (c *Cli) syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Synchronize local data with server",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, _ []string) error {
			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			c.io.Println("Synchronizing...")
			result, err := c.sync.Sync(ctx)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			c.printResult(result)
			return nil
		}),
	}
}

func (c *Cli) watchCommand() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep synchronizing until interrupted",
		Long: `Synchronize now, then on every change notification from the server
and every --interval as a fallback. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, _ []string) error {
			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c.io.Printf("Watching %s, press Ctrl+C to stop\n", c.opts.ServerURL)
			err := c.sync.Watch(ctx, interval, func(result *sync.SyncResult, err error) {
				if err != nil {
					c.io.Printf("✗ sync failed: %v\n", err)
					return
				}
				if result.Pulled > 0 || result.Pushed > 0 {
					c.printResult(result)
				}
			})
			if err != nil && ctx.Err() != nil {
				// остановлен сигналом или отменой родительского контекста
				return nil
			}
			return err
		}),
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "fallback sync interval")
	return cmd
}

func (c *Cli) printResult(r *sync.SyncResult) {
	c.io.Printf("✓ Sync completed at cursor %d\n", r.Cursor)
	c.io.Printf("  Pulled: %d, pushed: %d\n", r.Pulled, r.Pushed)
	c.io.Printf("  Accepted: %d, merged: %d, deferred: %d, rejected: %d\n",
		r.Accepted, r.Merged, r.Deferred, r.Rejected)
	if r.Deferred > 0 {
		c.io.Println("Some changes need attention, see 'gophsync conflicts --local'.")
	}
}
