package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iudanet/offsync/internal/client/api"
	"github.com/iudanet/offsync/internal/client/auth"
	"github.com/iudanet/offsync/internal/client/datasync"
	"github.com/iudanet/offsync/internal/client/network"
	"github.com/iudanet/offsync/internal/client/offline"
	"github.com/iudanet/offsync/internal/client/queue"
	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/client/storage/boltdb"
	"github.com/iudanet/offsync/internal/client/storage/memory"
	"github.com/iudanet/offsync/internal/client/storage/sqlite"
	"github.com/iudanet/offsync/internal/config"
	"github.com/iudanet/offsync/internal/metrics"
)

// App holds the wired offline subsystem of one CLI invocation.
type App struct {
	Store    storage.Store
	Auth     *auth.TokenProvider
	Client   *api.Client
	Monitor  *network.Monitor
	Queue    *queue.Queue
	Data     *datasync.Manager
	Service  *offline.Service
	Registry *prometheus.Registry
	closer   io.Closer
}

// OpenOptions tune how the app starts.
type OpenOptions struct {
	// Probe проверяет связь до подписки на переходы, чтобы разовая команда
	// стартовала с реальным статусом и не запускала лишнюю фоновую синхронизацию
	Probe bool
	// SyncInterval переопределяет таймер из конфигурации; отрицательное значение отключает его
	SyncInterval time.Duration
}

// Open builds every component from cfg.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts OpenOptions) (*App, error) {
	store, closer, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app, err := wire(ctx, cfg, logger, opts, store)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}
	app.closer = closer
	return app, nil
}

func wire(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts OpenOptions, store storage.Store) (*App, error) {
	registry := prometheus.NewRegistry()
	met := metrics.New(registry)

	tokens := auth.NewTokenProvider(store, logger)
	client := api.NewClient(cfg.ServerURL, tokens)

	monitor := network.NewMonitor(network.Config{
		Prober:       client,
		Logger:       logger,
		Metrics:      met,
		ProbeTimeout: cfg.ProbeTimeout.Std(),
	})
	if opts.Probe {
		monitor.SetOnline(monitor.CheckConnectivity(ctx))
	}

	q, err := queue.New(ctx, queue.Config{
		Store:      store,
		Logger:     logger,
		Metrics:    met,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open action queue: %w", err)
	}

	data, err := datasync.New(ctx, datasync.Config{
		Store:   store,
		Fetcher: client,
		Logger:  logger,
		Metrics: met,
		Phases:  phasesFromConfig(cfg.Phases),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open data sync: %w", err)
	}

	executors := make(map[string]queue.Executor, len(cfg.Resources))
	for _, resource := range cfg.Resources {
		executors[resource] = client.Executor(resource)
	}

	interval := cfg.SyncInterval.Std()
	if opts.SyncInterval != 0 {
		interval = opts.SyncInterval
	}

	service, err := offline.New(offline.Config{
		Queue:        q,
		Data:         data,
		Monitor:      monitor,
		Auth:         tokens,
		Executors:    executors,
		Logger:       logger,
		SyncInterval: interval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start offline service: %w", err)
	}

	return &App{
		Store:    store,
		Auth:     tokens,
		Client:   client,
		Monitor:  monitor,
		Queue:    q,
		Data:     data,
		Service:  service,
		Registry: registry,
	}, nil
}

// Close stops background work and closes the store.
func (a *App) Close() error {
	a.Service.Destroy()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, io.Closer, error) {
	switch cfg.Store {
	case config.StoreBolt:
		s, err := boltdb.New(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		return s, s, nil
	case config.StoreSQLite:
		s, err := sqlite.New(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		return s, s, nil
	case config.StoreMemory:
		return memory.New(), nil, nil
	default:
		return nil, nil, errors.New("unknown store " + cfg.Store)
	}
}

func phasesFromConfig(phases []config.Phase) []datasync.Phase {
	if len(phases) == 0 {
		return nil
	}
	out := make([]datasync.Phase, 0, len(phases))
	for _, p := range phases {
		out = append(out, datasync.Phase{
			Collection:  p.Collection,
			Message:     p.Message,
			Field:       p.Field,
			Source:      p.Source,
			SourceField: p.SourceField,
		})
	}
	return out
}
