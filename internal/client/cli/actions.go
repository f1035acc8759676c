package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/models"
)

func (c *Cli) addCommand() *cobra.Command {
	var priority int

	cmd := &cobra.Command{
		Use:   "add <create|update|delete> <resource> <json-payload>",
		Short: "Queue a mutation; it is sent right away when the server is reachable",
		Example: `  offsync add create lists '{"name":"Groceries"}' --priority 1
  offsync add update lists '{"id":"l1","name":"Weekend"}'
  offsync add delete lists '{"id":"l1"}'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := models.ActionKind(args[0])
			if !kind.Valid() {
				return fmt.Errorf("unknown action kind %q (valid: create, update, delete)", args[0])
			}
			payload := json.RawMessage(args[2])
			if !json.Valid(payload) {
				return fmt.Errorf("payload is not valid JSON")
			}

			return c.withApp(cmd.Context(), oneShot(), func(app *App) error {
				id, err := app.Service.AddAction(cmd.Context(), kind, args[1], payload, priority)
				if err != nil {
					return err
				}

				c.io.Printf("✓ Action queued: %s\n", id)
				if app.Service.IsOnline() {
					c.io.Println("Server is reachable, synchronizing...")
				} else {
					c.io.Println("⚠️  Server unreachable, the action will be sent when the connection is back.")
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&priority, "priority", "p", models.PriorityNormal,
		fmt.Sprintf("priority, lower runs first (high=%d, normal=%d, low=%d)", models.PriorityHigh, models.PriorityNormal, models.PriorityLow))
	return cmd
}

func (c *Cli) actionsCommand() *cobra.Command {
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List queued actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), local(), func(app *App) error {
				if !failedOnly {
					c.printActions("Pending", app.Service.PendingActions())
					c.io.Println()
				}
				c.printActions("Failed", app.Service.FailedActions())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&failedOnly, "failed", false, "show only actions that exhausted their retries")
	return cmd
}

func (c *Cli) printActions(title string, actions []*models.Action) {
	c.io.Printf("=== %s actions (%d) ===\n", title, len(actions))
	if len(actions) == 0 {
		return
	}

	w := tabwriter.NewWriter(c.io, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tRESOURCE\tPRIORITY\tRETRIES\tENQUEUED")
	for _, a := range actions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			a.ID, a.Kind, a.Resource, a.Priority, a.RetryCount, a.EnqueuedAt.Local().Format(time.DateTime))
	}
	_ = w.Flush()
}

func (c *Cli) retryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Reset failed actions and synchronize",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), oneShot(), func(app *App) error {
				reset, ok := app.Service.RetryFailedActions(cmd.Context())
				c.io.Printf("Reset %d failed action(s)\n", reset)

				switch {
				case !app.Service.IsOnline():
					c.io.Println("⚠️  Server unreachable, actions stay queued.")
				case ok:
					c.io.Println("✓ All actions synchronized")
				default:
					c.printQueueSummary(app)
				}
				return nil
			})
		},
	}
}

func (c *Cli) clearCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued action and the local snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("this drops unsynchronized actions; rerun with --yes to confirm")
			}
			return c.withApp(cmd.Context(), local(), func(app *App) error {
				app.Service.ClearAll(cmd.Context())
				c.io.Println("✓ Offline data cleared")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm clearing")
	return cmd
}

func (c *Cli) printQueueSummary(app *App) {
	stats := app.Service.Stats()
	c.io.Printf("Queue: %d pending, %d failed\n", stats.Queue.Pending, stats.Queue.Failed)
}
