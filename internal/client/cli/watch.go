package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/client/network"
)

func (c *Cli) watchCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep running: probe the server and replay queued actions when it is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = c.cfg.MetricsAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// таймер и переходы сети работают на протяжении всей команды
			return c.withApp(ctx, OpenOptions{}, func(app *App) error {
				return c.watch(ctx, app, metricsAddr)
			})
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (e.g. :9100)")
	return cmd
}

func (c *Cli) watch(ctx context.Context, app *App, metricsAddr string) error {
	unsubscribe := app.Monitor.AddListener(func(online bool) {
		if online {
			c.io.Printf("%s server reachable\n", time.Now().Format(time.TimeOnly))
		} else {
			c.io.Printf("%s server unreachable, queueing\n", time.Now().Format(time.TimeOnly))
		}
	})
	defer unsubscribe()

	var srv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))
		srv = &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Error("Metrics server failed", "addr", metricsAddr, "error", err)
			}
		}()
		c.logger.Info("Serving metrics", "addr", metricsAddr)
	}

	c.io.Printf("Watching %s (probe every %s, sync every %s). Press Ctrl+C to stop.\n",
		c.cfg.ServerURL, c.cfg.ProbeInterval.Std(), c.cfg.SyncInterval.Std())

	poller := network.NewPoller(app.Monitor, c.cfg.ProbeInterval.Std(), c.logger)
	if err := poller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start network poller: %w", err)
	}

	<-ctx.Done()

	poller.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}

	stats := app.Service.Stats()
	c.io.Printf("Stopped. %d pending, %d failed action(s) remain queued.\n", stats.Queue.Pending, stats.Queue.Failed)
	return nil
}
