// Package offline is the single entry point of the offline subsystem. It
// wires the action queue, the snapshot manager and the network monitor
// together and decides when reconciliation runs.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iudanet/offsync/internal/client/auth"
	"github.com/iudanet/offsync/internal/client/datasync"
	"github.com/iudanet/offsync/internal/client/network"
	"github.com/iudanet/offsync/internal/client/queue"
	"github.com/iudanet/offsync/internal/models"
)

// DefaultSyncInterval is the period of the backstop sync timer.
const DefaultSyncInterval = 5 * time.Minute

// Config configures a Service.
type Config struct {
	Queue     *queue.Queue
	Data      *datasync.Manager
	Monitor   *network.Monitor
	Auth      auth.Provider
	Executors map[string]queue.Executor
	Logger    *slog.Logger
	// SyncInterval периодической синхронизации; 0 - значение по умолчанию,
	// отрицательное значение отключает таймер
	SyncInterval time.Duration
}

// Service orchestrates offline operation.
type Service struct {
	queue       *queue.Queue
	data        *datasync.Manager
	monitor     *network.Monitor
	auth        auth.Provider
	logger      *slog.Logger
	unsubscribe func()
	stopTicker  chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex // защищает closed и wg.Add
	stopOnce    sync.Once
	destroyOnce sync.Once
	// pass занят, пока идёт выполнение очереди; ёмкость 1
	pass    chan struct{}
	closed  bool
	syncing atomic.Bool
	rerun   atomic.Bool
}

// New creates the service, registers executors, subscribes to network
// transitions and starts the periodic sync timer.
func New(cfg Config) (*Service, error) {
	if cfg.Queue == nil {
		return nil, ErrNoQueue
	}
	if cfg.Data == nil {
		return nil, ErrNoData
	}
	if cfg.Monitor == nil {
		return nil, ErrNoMonitor
	}
	if cfg.Auth == nil {
		return nil, ErrNoAuth
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}

	s := &Service{
		queue:      cfg.Queue,
		data:       cfg.Data,
		monitor:    cfg.Monitor,
		auth:       cfg.Auth,
		logger:     cfg.Logger,
		stopTicker: make(chan struct{}),
		pass:       make(chan struct{}, 1),
	}

	for resource, exec := range cfg.Executors {
		s.queue.RegisterExecutor(resource, exec)
	}

	s.unsubscribe = s.monitor.AddListener(func(online bool) {
		if online {
			s.logger.Info("Network is back online, syncing pending actions")
			s.syncInBackground("online")
		}
	})

	if cfg.SyncInterval > 0 {
		s.mu.Lock()
		s.wg.Add(1)
		s.mu.Unlock()
		go s.periodicSync(cfg.SyncInterval)
	}

	return s, nil
}

// RegisterExecutor associates resource with exec on the underlying queue.
func (s *Service) RegisterExecutor(resource string, exec queue.Executor) {
	s.queue.RegisterExecutor(resource, exec)
}

// AddAction enqueues a mutation for the current session. Priority defaults
// to models.PriorityNormal. When online a sync is started in the background.
func (s *Service) AddAction(ctx context.Context, kind models.ActionKind, resource string, payload json.RawMessage, priority ...int) (string, error) {
	session, err := s.auth.Session(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve session: %w", err)
	}

	p := models.PriorityNormal
	if len(priority) > 0 {
		p = priority[0]
	}

	id, err := s.queue.Add(ctx, kind, resource, payload, session.TenantID, session.ActorID, p)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue action: %w", err)
	}

	if s.monitor.IsOnline() {
		s.syncInBackground("add")
	}

	return id, nil
}

// SyncActions executes pending actions. It returns false without doing
// anything when offline or when nothing is pending. A call made while
// another sync is running returns false at once and makes the running sync
// go over the queue again, so actions added meanwhile are not left behind.
// Otherwise it returns true iff no executed action failed.
func (s *Service) SyncActions(ctx context.Context) bool {
	if !s.monitor.IsOnline() {
		s.logger.Debug("Skipping sync: offline")
		return false
	}
	if s.queue.Stats().Pending == 0 {
		return false
	}
	// флаг ставится до попытки захвата: владелец проверяет его после освобождения
	s.rerun.Store(true)
	if !s.tryAcquirePass() {
		s.logger.Debug("Sync already in progress, rerun requested")
		return false
	}
	return s.runPasses(ctx)
}

// runPasses выполняет очередь, пока есть запросы на повтор. Вызывается
// владельцем pass и освобождает его.
func (s *Service) runPasses(ctx context.Context) bool {
	ok := true
	for {
		s.rerun.Store(false)
		if !s.executePass(ctx) {
			ok = false
		}
		if s.rerun.Load() && s.canRerun(ctx) {
			continue
		}

		s.releasePass()
		// запрос мог прийти между проверкой и освобождением
		if !s.rerun.Load() || !s.canRerun(ctx) || !s.tryAcquirePass() {
			return ok
		}
	}
}

func (s *Service) executePass(ctx context.Context) bool {
	results := s.queue.ExecuteAll(ctx)
	if len(results) == 0 {
		return true
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}

	s.logger.Info("Actions synchronized",
		"executed", len(results),
		"succeeded", len(results)-failed,
		"failed", failed)

	return failed == 0
}

func (s *Service) canRerun(ctx context.Context) bool {
	return ctx.Err() == nil && s.monitor.IsOnline() && s.queue.Stats().Pending > 0
}

func (s *Service) tryAcquirePass() bool {
	select {
	case s.pass <- struct{}{}:
		s.syncing.Store(true)
		return true
	default:
		return false
	}
}

// acquirePass ждёт завершения текущего прохода
func (s *Service) acquirePass(ctx context.Context) error {
	select {
	case s.pass <- struct{}{}:
		s.syncing.Store(true)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) releasePass() {
	s.syncing.Store(false)
	<-s.pass
}

// DownloadData refreshes the local snapshot for the current tenant.
func (s *Service) DownloadData(ctx context.Context, onProgress datasync.ProgressFunc) error {
	if !s.monitor.IsOnline() {
		return ErrOffline
	}

	session, err := s.auth.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve session: %w", err)
	}

	if err := s.data.Download(ctx, session.TenantID, onProgress); err != nil {
		return fmt.Errorf("failed to download data: %w", err)
	}
	return nil
}

// FullSync flushes pending actions and then refreshes the snapshot, so the
// snapshot reflects the actions just written. A sync already running is
// waited for before the flush.
func (s *Service) FullSync(ctx context.Context, onProgress datasync.ProgressFunc) error {
	if s.monitor.IsOnline() {
		if err := s.acquirePass(ctx); err != nil {
			return fmt.Errorf("failed to wait for running sync: %w", err)
		}
		s.runPasses(ctx)
	}
	return s.DownloadData(ctx, onProgress)
}

// RetryFailedActions makes every failed action pending again and syncs if
// online. Returns how many actions were reset and the sync result.
func (s *Service) RetryFailedActions(ctx context.Context) (int, bool) {
	reset := s.queue.RetryFailed(ctx)
	s.logger.Info("Failed actions reset", "count", reset)

	if !s.monitor.IsOnline() {
		return reset, false
	}
	return reset, s.SyncActions(ctx)
}

// ClearAll drops the queue and the snapshot, e.g. on logout.
func (s *Service) ClearAll(ctx context.Context) {
	s.queue.Clear(ctx)
	s.data.Clear(ctx)
	s.logger.Info("Offline state cleared")
}

// Stats aggregates network, queue and snapshot state.
func (s *Service) Stats() models.Stats {
	return models.Stats{
		Data:      s.data.Stats(),
		Queue:     s.queue.Stats(),
		IsOnline:  s.monitor.IsOnline(),
		IsSyncing: s.IsSyncing(),
	}
}

// IsOnline reports the monitor's current status.
func (s *Service) IsOnline() bool {
	return s.monitor.IsOnline()
}

// PendingActionsCount returns how many actions still wait to be executed.
func (s *Service) PendingActionsCount() int {
	return s.queue.Stats().Pending
}

// PendingActions returns the actions waiting to be executed, in execution order.
func (s *Service) PendingActions() []*models.Action {
	return s.queue.Pending()
}

// FailedActions returns the actions that exhausted their retries.
func (s *Service) FailedActions() []*models.Action {
	return s.queue.Failed()
}

// IsSyncing reports whether actions are being executed or a snapshot is
// being downloaded.
func (s *Service) IsSyncing() bool {
	return s.syncing.Load() || s.data.IsSyncing()
}

// LastSync returns the time of the last successful download, or nil.
func (s *Service) LastSync() *time.Time {
	return s.data.LastSync()
}

// StopPeriodicSync stops the backstop timer. Safe to call more than once.
func (s *Service) StopPeriodicSync() {
	s.stopOnce.Do(func() {
		close(s.stopTicker)
	})
}

// Destroy stops the timer, unhooks the network listener and waits for
// running background syncs to finish. No new background sync starts after it.
func (s *Service) Destroy() {
	s.destroyOnce.Do(func() {
		s.StopPeriodicSync()
		s.unsubscribe()

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.wg.Wait()
		s.logger.Debug("Offline service destroyed")
	})
}

// syncInBackground запускает SyncActions в отдельной горутине, не блокируя вызывающего
func (s *Service) syncInBackground(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.logger.Debug("Background sync started", "reason", reason)
		// фоновый проход не привязан к контексту вызывающего: он уже вернулся
		s.SyncActions(context.Background())
	}()
}

func (s *Service) periodicSync(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopTicker:
			return
		case <-ticker.C:
			if s.monitor.IsOnline() && s.queue.Stats().Pending > 0 {
				s.logger.Debug("Periodic sync triggered")
				s.SyncActions(context.Background())
			}
		}
	}
}
