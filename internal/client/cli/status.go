package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/client/auth"
)

func (c *Cli) statusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show network, session, queue and snapshot state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), oneShot(), func(app *App) error {
				stats := app.Service.Stats()

				if asJSON {
					data, err := json.MarshalIndent(stats, "", "  ")
					if err != nil {
						return fmt.Errorf("failed to encode stats: %w", err)
					}
					c.io.Println(string(data))
					return nil
				}

				c.io.Println("=== Offline Status ===")
				c.io.Println()

				network := "offline"
				if stats.IsOnline {
					network = "online"
				}
				c.io.Printf("Server:   %s (%s)\n", c.cfg.ServerURL, network)

				session, err := app.Auth.Session(cmd.Context())
				switch {
				case err == nil:
					c.io.Printf("Session:  %s / %s\n", session.TenantID, session.ActorID)
				case errors.Is(err, auth.ErrTokenExpired):
					c.io.Println("Session:  ⚠️  token expired, run 'offsync login'")
				default:
					c.io.Println("Session:  not authenticated")
				}

				c.io.Printf("Queue:    %d pending, %d failed, %d total\n",
					stats.Queue.Pending, stats.Queue.Failed, stats.Queue.Total)

				if stats.Data.LastSyncAt == nil {
					c.io.Println("Snapshot: never downloaded")
				} else {
					c.io.Printf("Snapshot: %s, %d bytes\n", stats.Data.LastSyncAt.Local().Format(time.RFC3339), stats.Data.SizeBytes)
					names := make([]string, 0, len(stats.Data.Counts))
					for name := range stats.Data.Counts {
						names = append(names, name)
					}
					sort.Strings(names)
					for _, name := range names {
						c.io.Printf("  %-14s %d\n", name, stats.Data.Counts[name])
					}
				}

				if stats.Queue.Failed > 0 {
					c.io.Println()
					c.io.Println("⚠️  Some actions exhausted their retries. Run 'offsync actions --failed' to inspect, 'offsync retry' to try again.")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print stats as JSON")
	return cmd
}

func (c *Cli) configCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := toml.Marshal(c.cfg)
			if err != nil {
				return fmt.Errorf("cannot marshal config: %w", err)
			}
			_, err = c.io.Write(data)
			return err
		},
	}
}
