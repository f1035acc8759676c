package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/server"
	"github.com/iudanet/offsync/internal/server/handlers"
	"github.com/iudanet/offsync/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// secretEnv переменная окружения с HMAC секретом
const secretEnv = "OFFSYNC_DEV_SECRET"

func main() {
	if err := rootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var secret string

	root := &cobra.Command{
		Use:           "offsync-devserver",
		Short:         "Reference remote store for offsync development",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&secret, "secret", os.Getenv(secretEnv), "HMAC secret for access tokens (env "+secretEnv+")")

	root.AddCommand(serveCommand(&secret), tokenCommand(&secret), versionCommand())
	return root
}

func serveCommand(secret *string) *cobra.Command {
	var (
		addr      string
		dbPath    string
		logLevel  string
		rateLimit int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the record API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if *secret == "" {
				return fmt.Errorf("secret is required: use --secret or %s", secretEnv)
			}

			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return fmt.Errorf("invalid log level %q: %w", logLevel, err)
			}
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := sqlite.New(ctx, dbPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.Error("failed to close database", "error", err)
				}
			}()

			srv := server.New(server.Config{
				Storage:   store,
				Logger:    logger,
				JWT:       handlers.JWTConfig{Secret: []byte(*secret)},
				RateLimit: rateLimit,
			})
			defer srv.Close()

			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&dbPath, "db", "offsync-devserver.db", "path to SQLite database")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "requests per minute per tenant, 0 disables")
	return cmd
}

func tokenCommand(secret *string) *cobra.Command {
	var (
		tenantID string
		userID   string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token",
		Example: `  offsync-devserver token --tenant acme --user alice
  offsync login --token "$(offsync-devserver token --tenant acme --user alice)"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if *secret == "" {
				return fmt.Errorf("secret is required: use --secret or %s", secretEnv)
			}

			token, _, err := handlers.GenerateAccessToken(handlers.JWTConfig{
				Secret:         []byte(*secret),
				AccessTokenTTL: ttl,
			}, strings.TrimSpace(tenantID), strings.TrimSpace(userID))
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}

func printVersion() {
	fmt.Printf("offsync-devserver\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
