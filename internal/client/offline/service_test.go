package offline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offsync/internal/client/auth"
	"github.com/iudanet/offsync/internal/client/datasync"
	"github.com/iudanet/offsync/internal/client/network"
	"github.com/iudanet/offsync/internal/client/queue"
	"github.com/iudanet/offsync/internal/client/storage/memory"
	"github.com/iudanet/offsync/internal/models"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type fixture struct {
	service *Service
	queue   *queue.Queue
	data    *datasync.Manager
	monitor *network.Monitor
	fetcher *datasync.FetcherMock
}

type fixtureOptions struct {
	auth         auth.Provider
	executors    map[string]queue.Executor
	online       bool
	syncInterval time.Duration
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := discardLogger()
	store := memory.New()

	q, err := queue.New(ctx, queue.Config{Store: store, Logger: logger, MaxRetries: 3})
	require.NoError(t, err)

	fetcher := &datasync.FetcherMock{
		FetchFunc: func(ctx context.Context, req datasync.FetchRequest) ([]json.RawMessage, error) {
			return []json.RawMessage{json.RawMessage(`{"id":"r1"}`)}, nil
		},
	}
	data, err := datasync.New(ctx, datasync.Config{
		Store:   store,
		Fetcher: fetcher,
		Logger:  logger,
		Phases:  []datasync.Phase{{Collection: "widgets"}},
	})
	require.NoError(t, err)

	monitor := network.NewMonitor(network.Config{Logger: logger, InitialOnline: opts.online})

	if opts.auth == nil {
		opts.auth = auth.Static{TenantID: "tenant-1", ActorID: "user-1"}
	}
	if opts.syncInterval == 0 {
		opts.syncInterval = -1
	}

	svc, err := New(Config{
		Queue:        q,
		Data:         data,
		Monitor:      monitor,
		Auth:         opts.auth,
		Executors:    opts.executors,
		Logger:       logger,
		SyncInterval: opts.syncInterval,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Destroy)

	return &fixture{service: svc, queue: q, data: data, monitor: monitor, fetcher: fetcher}
}

// countingExecutor потокобезопасно считает вызовы
type countingExecutor struct {
	err   error
	calls atomic.Int32
}

func (c *countingExecutor) exec(ctx context.Context, a *models.Action) error {
	c.calls.Add(1)
	return c.err
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoQueue)
}

// Example scenario: action queued offline is flushed on the online transition.
func TestScenario_OfflineAddThenOnlineTransition(t *testing.T) {
	widgets := &countingExecutor{}
	f := newFixture(t, fixtureOptions{
		executors: map[string]queue.Executor{"widgets": widgets.exec},
	})

	_, err := f.service.AddAction(context.Background(), models.ActionCreate, "widgets", json.RawMessage(`{"name":"A"}`), models.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, 1, f.service.PendingActionsCount())
	assert.Equal(t, int32(0), widgets.calls.Load())

	f.monitor.SetOnline(true)

	assert.Eventually(t, func() bool {
		return f.service.PendingActionsCount() == 0
	}, waitFor, tick)
	assert.Empty(t, f.service.FailedActions())
	assert.Equal(t, int32(1), widgets.calls.Load())
}

func TestAddAction_FlushesWhenOnline(t *testing.T) {
	widgets := &countingExecutor{}
	f := newFixture(t, fixtureOptions{
		online:    true,
		executors: map[string]queue.Executor{"widgets": widgets.exec},
	})

	_, err := f.service.AddAction(context.Background(), models.ActionCreate, "widgets", json.RawMessage(`{}`))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return f.queue.Count() == 0
	}, waitFor, tick)
	assert.Equal(t, int32(1), widgets.calls.Load())
}

// Действие, добавленное во время прохода, уходит без внешнего триггера.
func TestAddAction_FlushesActionAddedDuringSync(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var calls atomic.Int32

	f := newFixture(t, fixtureOptions{
		online: true,
		executors: map[string]queue.Executor{
			"widgets": func(ctx context.Context, a *models.Action) error {
				calls.Add(1)
				once.Do(func() { close(started) })
				<-release
				return nil
			},
		},
	})

	ctx := context.Background()
	_, err := f.service.AddAction(ctx, models.ActionCreate, "widgets", json.RawMessage(`{"name":"A"}`))
	require.NoError(t, err)

	<-started
	require.True(t, f.service.IsSyncing())

	_, err = f.service.AddAction(ctx, models.ActionCreate, "widgets", json.RawMessage(`{"name":"B"}`))
	require.NoError(t, err)

	close(release)

	assert.Eventually(t, func() bool {
		return !f.service.IsSyncing() && f.service.PendingActionsCount() == 0
	}, waitFor, tick)
	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, f.service.FailedActions())
}

func TestAddAction_DefaultPriorityAndSession(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	id, err := f.service.AddAction(context.Background(), models.ActionCreate, "widgets", json.RawMessage(`{}`))
	require.NoError(t, err)

	action, ok := f.queue.Get(id)
	require.True(t, ok)
	assert.Equal(t, models.PriorityNormal, action.Priority)
	assert.Equal(t, "tenant-1", action.TenantID)
	assert.Equal(t, "user-1", action.ActorID)
}

func TestAddAction_RequiresSession(t *testing.T) {
	f := newFixture(t, fixtureOptions{auth: auth.Static{}})

	_, err := f.service.AddAction(context.Background(), models.ActionCreate, "widgets", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
	assert.Equal(t, 0, f.queue.Count())
}

func TestAddAction_InvalidAction(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	_, err := f.service.AddAction(context.Background(), models.ActionUpdate, "widgets", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, queue.ErrMissingTargetID)
}

func TestSyncActions_NoOpCases(t *testing.T) {
	widgets := &countingExecutor{}

	t.Run("offline", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{executors: map[string]queue.Executor{"widgets": widgets.exec}})
		_, err := f.service.AddAction(context.Background(), models.ActionCreate, "widgets", json.RawMessage(`{}`))
		require.NoError(t, err)

		assert.False(t, f.service.SyncActions(context.Background()))
		assert.Equal(t, 1, f.service.PendingActionsCount())
	})

	t.Run("empty queue", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{online: true})
		assert.False(t, f.service.SyncActions(context.Background()))
	})

	assert.Equal(t, int32(0), widgets.calls.Load())
}

func TestSyncActions_ReportsFailures(t *testing.T) {
	failing := &countingExecutor{err: errors.New("rejected")}
	ok := &countingExecutor{}
	f := newFixture(t, fixtureOptions{
		executors: map[string]queue.Executor{"widgets": failing.exec, "gadgets": ok.exec},
	})

	ctx := context.Background()
	_, err := f.service.AddAction(ctx, models.ActionCreate, "gadgets", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = f.service.AddAction(ctx, models.ActionCreate, "widgets", json.RawMessage(`{}`))
	require.NoError(t, err)

	// переход в онлайн запускает фоновый проход
	f.monitor.SetOnline(true)
	require.Eventually(t, func() bool { return ok.calls.Load() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return !f.service.IsSyncing() }, waitFor, tick)

	assert.False(t, f.service.SyncActions(ctx))
	assert.Equal(t, 1, f.service.PendingActionsCount())
}

func TestSyncActions_SingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	f := newFixture(t, fixtureOptions{
		executors: map[string]queue.Executor{
			"widgets": func(ctx context.Context, a *models.Action) error {
				once.Do(func() { close(started) })
				<-release
				return nil
			},
		},
	})

	_, err := f.service.AddAction(context.Background(), models.ActionCreate, "widgets", json.RawMessage(`{}`))
	require.NoError(t, err)
	f.monitor.SetOnline(true)

	<-started
	assert.True(t, f.service.IsSyncing())
	assert.False(t, f.service.SyncActions(context.Background()))

	close(release)
	assert.Eventually(t, func() bool {
		return !f.service.IsSyncing() && f.service.PendingActionsCount() == 0
	}, waitFor, tick)
}

func TestDownloadData(t *testing.T) {
	t.Run("offline", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		assert.ErrorIs(t, f.service.DownloadData(context.Background(), nil), ErrOffline)
		assert.Empty(t, f.fetcher.FetchCalls())
	})

	t.Run("not authenticated", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{online: true, auth: auth.Static{}})
		assert.ErrorIs(t, f.service.DownloadData(context.Background(), nil), auth.ErrNotAuthenticated)
		assert.Empty(t, f.fetcher.FetchCalls())
	})

	t.Run("success", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{online: true})

		var phases []string
		err := f.service.DownloadData(context.Background(), func(p models.SyncProgress) {
			phases = append(phases, p.Phase)
		})
		require.NoError(t, err)

		assert.Equal(t, []string{"widgets", datasync.PhaseComplete}, phases)
		assert.Equal(t, "tenant-1", f.fetcher.FetchCalls()[0].Req.TenantID)
		assert.NotNil(t, f.service.LastSync())
	})
}

func TestFullSync_FlushesBeforeDownload(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(step string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, step)
	}

	f := newFixture(t, fixtureOptions{
		executors: map[string]queue.Executor{
			"widgets": func(ctx context.Context, a *models.Action) error {
				record("execute")
				return nil
			},
		},
	})
	f.fetcher.FetchFunc = func(ctx context.Context, req datasync.FetchRequest) ([]json.RawMessage, error) {
		record("fetch")
		return nil, nil
	}

	_, err := f.service.AddAction(context.Background(), models.ActionCreate, "widgets", json.RawMessage(`{}`))
	require.NoError(t, err)

	// онлайн без слушателя: переход не должен запустить фоновую синхронизацию
	f.service.unsubscribe()
	f.monitor.SetOnline(true)

	require.NoError(t, f.service.FullSync(context.Background(), nil))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"execute", "fetch"}, order)
}

func TestFullSync_WaitsForRunningSync(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	var order []string
	var mu sync.Mutex
	record := func(step string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, step)
	}

	f := newFixture(t, fixtureOptions{
		online: true,
		executors: map[string]queue.Executor{
			"widgets": func(ctx context.Context, a *models.Action) error {
				record("execute " + string(a.Payload))
				once.Do(func() { close(started) })
				<-release
				return nil
			},
		},
	})
	f.fetcher.FetchFunc = func(ctx context.Context, req datasync.FetchRequest) ([]json.RawMessage, error) {
		record("fetch")
		return nil, nil
	}

	ctx := context.Background()
	_, err := f.service.AddAction(ctx, models.ActionCreate, "widgets", json.RawMessage(`{"name":"A"}`))
	require.NoError(t, err)
	<-started

	_, err = f.service.AddAction(ctx, models.ActionCreate, "widgets", json.RawMessage(`{"name":"B"}`))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- f.service.FullSync(ctx, nil)
	}()

	// пока проход не завершён, снимок не загружается
	assert.Never(t, func() bool {
		return len(f.fetcher.FetchCalls()) > 0
	}, 100*time.Millisecond, tick)

	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("FullSync did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`execute {"name":"A"}`, `execute {"name":"B"}`, "fetch"}, order)
	assert.Equal(t, 0, f.service.PendingActionsCount())
}

func TestFullSync_CancelledWhileWaiting(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	f := newFixture(t, fixtureOptions{
		online: true,
		executors: map[string]queue.Executor{
			"widgets": func(ctx context.Context, a *models.Action) error {
				once.Do(func() { close(started) })
				<-release
				return nil
			},
		},
	})
	defer close(release)

	_, err := f.service.AddAction(context.Background(), models.ActionCreate, "widgets", json.RawMessage(`{}`))
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = f.service.FullSync(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, f.fetcher.FetchCalls())
}

func TestRetryFailedActions(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	calls := atomic.Int32{}

	f := newFixture(t, fixtureOptions{
		online: true,
		executors: map[string]queue.Executor{
			"widgets": func(ctx context.Context, a *models.Action) error {
				calls.Add(1)
				if fail.Load() {
					return errors.New("rejected")
				}
				return nil
			},
		},
	})
	ctx := context.Background()

	_, err := f.service.AddAction(ctx, models.ActionCreate, "widgets", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !f.service.IsSyncing() && calls.Load() >= 1 }, waitFor, tick)

	// добиваем до исчерпания попыток
	for len(f.service.FailedActions()) == 0 {
		f.service.SyncActions(ctx)
	}
	require.Len(t, f.service.FailedActions(), 1)

	fail.Store(false)
	reset, ok := f.service.RetryFailedActions(ctx)
	assert.Equal(t, 1, reset)
	assert.True(t, ok)
	assert.Equal(t, 0, f.queue.Count())
}

func TestRetryFailedActions_Offline(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	_, err := f.service.AddAction(context.Background(), models.ActionCreate, "nobody", json.RawMessage(`{}`))
	require.NoError(t, err)

	reset, ok := f.service.RetryFailedActions(context.Background())
	assert.Equal(t, 0, reset)
	assert.False(t, ok)
}

func TestClearAll(t *testing.T) {
	f := newFixture(t, fixtureOptions{online: true})
	ctx := context.Background()

	require.NoError(t, f.service.DownloadData(ctx, nil))
	f.service.unsubscribe()
	f.monitor.SetOnline(false)
	_, err := f.service.AddAction(ctx, models.ActionCreate, "widgets", json.RawMessage(`{}`))
	require.NoError(t, err)

	f.service.ClearAll(ctx)

	stats := f.service.Stats()
	assert.Equal(t, models.QueueStats{}, stats.Queue)
	assert.Empty(t, stats.Data.Counts)
	assert.Nil(t, stats.Data.LastSyncAt)
}

func TestStats(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	_, err := f.service.AddAction(ctx, models.ActionCreate, "widgets", json.RawMessage(`{}`))
	require.NoError(t, err)

	stats := f.service.Stats()
	assert.False(t, stats.IsOnline)
	assert.False(t, stats.IsSyncing)
	assert.Equal(t, models.QueueStats{Pending: 1, Total: 1}, stats.Queue)
	assert.Empty(t, stats.Data.Counts)
}

func TestPeriodicSync(t *testing.T) {
	widgets := &countingExecutor{}
	f := newFixture(t, fixtureOptions{
		executors:    map[string]queue.Executor{"widgets": widgets.exec},
		syncInterval: 20 * time.Millisecond,
	})

	_, err := f.service.AddAction(context.Background(), models.ActionCreate, "widgets", json.RawMessage(`{}`))
	require.NoError(t, err)

	// статус меняется без уведомления слушателя: сработать должен только таймер
	f.service.unsubscribe()
	f.monitor.SetOnline(true)

	assert.Eventually(t, func() bool {
		return f.service.PendingActionsCount() == 0
	}, waitFor, tick)
}

func TestStopPeriodicSync(t *testing.T) {
	widgets := &countingExecutor{}
	f := newFixture(t, fixtureOptions{
		executors:    map[string]queue.Executor{"widgets": widgets.exec},
		syncInterval: 10 * time.Millisecond,
	})
	f.service.StopPeriodicSync()
	f.service.StopPeriodicSync()

	_, err := f.service.AddAction(context.Background(), models.ActionCreate, "widgets", json.RawMessage(`{}`))
	require.NoError(t, err)
	f.service.unsubscribe()
	f.monitor.SetOnline(true)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), widgets.calls.Load())
	assert.Equal(t, 1, f.service.PendingActionsCount())
}

func TestDestroy_UnhooksListener(t *testing.T) {
	widgets := &countingExecutor{}
	f := newFixture(t, fixtureOptions{
		executors: map[string]queue.Executor{"widgets": widgets.exec},
	})

	_, err := f.service.AddAction(context.Background(), models.ActionCreate, "widgets", json.RawMessage(`{}`))
	require.NoError(t, err)

	f.service.Destroy()
	f.service.Destroy()
	f.monitor.SetOnline(true)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), widgets.calls.Load())

	// после Destroy добавление работает, но фоновая синхронизация не запускается
	_, err = f.service.AddAction(context.Background(), models.ActionCreate, "widgets", json.RawMessage(`{}`))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), widgets.calls.Load())
	assert.Equal(t, 2, f.service.PendingActionsCount())
}
