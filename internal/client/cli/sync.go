package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/client/offline"
	"github.com/iudanet/offsync/internal/models"
)

func (c *Cli) syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Send queued actions to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), oneShot(), func(app *App) error {
				if !app.Service.IsOnline() {
					return fmt.Errorf("%w: %d action(s) stay queued", offline.ErrOffline, app.Service.PendingActionsCount())
				}

				stats := app.Service.Stats()
				if stats.Queue.Pending == 0 {
					if stats.Queue.Failed > 0 {
						c.io.Printf("Nothing pending. %d failed action(s) exhausted their retries, run 'offsync retry' to send them again\n",
							stats.Queue.Failed)
						return nil
					}
					c.io.Println("✓ Nothing to synchronize")
					return nil
				}

				c.io.Println("Synchronizing...")
				if app.Service.SyncActions(cmd.Context()) {
					c.io.Println("✓ All actions synchronized")
					return nil
				}

				c.printQueueSummary(app)
				return fmt.Errorf("some actions were not synchronized")
			})
		},
	}
}

func (c *Cli) downloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Replace the local snapshot with the server's data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), oneShot(), func(app *App) error {
				if err := app.Service.DownloadData(cmd.Context(), c.printProgress); err != nil {
					return err
				}
				c.printSnapshotSummary(app)
				return nil
			})
		},
	}
}

func (c *Cli) fullSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "full-sync",
		Short: "Send queued actions, then download a fresh snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), oneShot(), func(app *App) error {
				if err := app.Service.FullSync(cmd.Context(), c.printProgress); err != nil {
					return err
				}
				c.printQueueSummary(app)
				c.printSnapshotSummary(app)
				return nil
			})
		},
	}
}

func (c *Cli) printProgress(p models.SyncProgress) {
	if p.Current == p.Total {
		c.io.Printf("[%d/%d] %s\n", p.Current, p.Total, p.Message)
		return
	}
	c.io.Printf("[%d/%d] %s...\n", p.Current+1, p.Total, p.Message)
}

func (c *Cli) printSnapshotSummary(app *App) {
	stats := app.Service.Stats().Data
	total := 0
	for _, n := range stats.Counts {
		total += n
	}
	c.io.Printf("✓ Snapshot: %d record(s) in %d collection(s), %d bytes\n", total, len(stats.Counts), stats.SizeBytes)
}
