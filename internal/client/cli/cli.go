// Package cli implements the offsync command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/client/iocli"
	"github.com/iudanet/offsync/internal/config"
)

type globalFlags struct {
	configPath string
	server     string
	db         string
	store      string
	logLevel   string
}

// Cli is the state shared by all commands of one invocation.
type Cli struct {
	io     iocli.IO
	stderr io.Writer
	cfg    *config.Config
	logger *slog.Logger
	flags  globalFlags
}

// New creates the CLI. Command output goes to io, logs go to stderr.
func New(io iocli.IO, stderr io.Writer) *Cli {
	return &Cli{io: io, stderr: stderr}
}

// RootCommand builds the command tree.
func (c *Cli) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "offsync",
		Short: "Offline-first client for the offsync remote store",
		Long: "offsync queues mutations while the server is unreachable, replays them\n" +
			"in priority order once it is back and keeps a local snapshot for offline reads.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadConfig(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.configPath, "config", "", "path to config file (default ~/.offsync/config.toml)")
	pf.StringVar(&c.flags.server, "server", "", "remote store URL")
	pf.StringVar(&c.flags.db, "db", "", "path to local database")
	pf.StringVar(&c.flags.store, "store", "", "local store: bolt, sqlite or memory")
	pf.StringVar(&c.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		c.loginCommand(),
		c.logoutCommand(),
		c.statusCommand(),
		c.configCommand(),
		c.addCommand(),
		c.actionsCommand(),
		c.syncCommand(),
		c.downloadCommand(),
		c.fullSyncCommand(),
		c.retryCommand(),
		c.clearCommand(),
		c.watchCommand(),
	)

	return root
}

// loadConfig читает файл и env, затем применяет явно заданные флаги
func (c *Cli) loadConfig(cmd *cobra.Command) error {
	path := c.flags.configPath
	if path == "" {
		if p, err := config.DefaultPath(); err == nil {
			path = p
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.ServerURL = c.flags.server
	}
	if flags.Changed("db") {
		cfg.DBPath = c.flags.db
	}
	if flags.Changed("store") {
		cfg.Store = c.flags.store
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = c.flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = cfg.NewLogger(c.stderr)
	return nil
}

// withApp открывает подсистему на время выполнения fn
func (c *Cli) withApp(ctx context.Context, opts OpenOptions, fn func(app *App) error) (err error) {
	app, err := Open(ctx, c.cfg, c.logger, opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close database: %w", closeErr)
		}
	}()

	return fn(app)
}

// oneShot - опции для разовых команд: реальный статус сети, без таймера
func oneShot() OpenOptions {
	return OpenOptions{Probe: true, SyncInterval: -1}
}

// local - опции для команд, не обращающихся к сети
func local() OpenOptions {
	return OpenOptions{SyncInterval: -1}
}
