package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func (c *Cli) loginCommand() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save an access token for the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				var err error
				token, err = c.io.ReadSecret("Access token: ")
				if err != nil {
					return fmt.Errorf("failed to read token: %w", err)
				}
			}

			return c.withApp(cmd.Context(), local(), func(app *App) error {
				session, err := app.Auth.Login(cmd.Context(), token)
				if err != nil {
					return err
				}

				c.io.Println("✓ Login successful!")
				c.io.Printf("Tenant: %s\n", session.TenantID)
				c.io.Printf("User:   %s\n", session.ActorID)
				if session.ExpiresAt != nil {
					c.io.Printf("Token expires: %s\n", session.ExpiresAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "access token (prompted when omitted)")
	return cmd
}

func (c *Cli) logoutCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the session and clear local offline data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), local(), func(app *App) error {
				stats := app.Service.Stats()
				if stats.Queue.Total > 0 && !force {
					return fmt.Errorf("%d queued action(s) would be lost; run 'offsync sync' first or use --force", stats.Queue.Total)
				}

				app.Service.ClearAll(cmd.Context())
				if err := app.Auth.Logout(cmd.Context()); err != nil {
					return err
				}

				c.io.Println("✓ Logged out, local offline data cleared")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "drop queued actions that were not synchronized")
	return cmd
}
