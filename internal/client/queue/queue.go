// Package queue implements the durable, priority-ordered, retryable queue of
// offline mutations.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/idgen"
	"github.com/iudanet/offsync/internal/metrics"
	"github.com/iudanet/offsync/internal/models"
)

// DefaultMaxRetries is used when Config.MaxRetries is not set.
const DefaultMaxRetries = 3

// Executor applies one action against the remote store for a resource.
// It must return an error if the remote mutation did not happen.
type Executor func(ctx context.Context, action *models.Action) error

// Result is the outcome of one execution attempt.
type Result struct {
	Action  *models.Action
	Err     error
	Success bool
}

// Config configures a Queue.
type Config struct {
	Store      storage.Store
	IDs        idgen.Generator
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
	MaxRetries int
}

// Queue is an ordered, persisted list of pending actions.
// Every mutation writes the whole queue to the store before returning.
type Queue struct {
	store      storage.Store
	ids        idgen.Generator
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	executors  map[string]Executor
	actions    []*models.Action // отсортированы: priority asc, enqueued_at asc
	maxRetries int
	mu         sync.RWMutex
	persistMu  sync.Mutex // сериализует записи, чтобы старый снимок не перетёр новый
	execMu     sync.Mutex // не более одного прохода ExecuteAll одновременно
}

// New creates a queue and loads previously persisted actions from the store.
// A corrupt or unreadable entry resets the queue to empty instead of failing.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.Store == nil {
		return nil, ErrNoStore
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.UUID{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	q := &Queue{
		store:      cfg.Store,
		ids:        cfg.IDs,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		executors:  make(map[string]Executor),
		maxRetries: cfg.MaxRetries,
	}

	q.load(ctx)
	q.updateGauges()

	return q, nil
}

// MaxRetries returns the retry budget after which an action is failed.
func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// RegisterExecutor associates resource with exec. Last registration wins.
func (q *Queue) RegisterExecutor(resource string, exec Executor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.executors[resource] = exec
}

// Add validates and enqueues a new action, persists the queue and returns the id.
func (q *Queue) Add(ctx context.Context, kind models.ActionKind, resource string, payload json.RawMessage, tenantID, actorID string, priority int) (string, error) {
	if tenantID == "" {
		return "", ErrMissingTenant
	}
	if actorID == "" {
		return "", ErrMissingActor
	}
	if resource == "" {
		return "", ErrMissingResource
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if !json.Valid(payload) {
		return "", ErrInvalidPayload
	}

	// Копия: вызывающий код может переиспользовать буфер
	data := make(json.RawMessage, len(payload))
	copy(data, payload)

	action := &models.Action{
		ID:         q.ids.NewID(),
		Kind:       kind,
		Resource:   resource,
		Payload:    data,
		EnqueuedAt: q.now().UTC(),
		TenantID:   tenantID,
		ActorID:    actorID,
		Priority:   priority,
	}

	if kind != models.ActionCreate && action.TargetID() == "" {
		return "", ErrMissingTargetID
	}

	q.mu.Lock()
	q.actions = append(q.actions, action)
	sortActions(q.actions)
	q.mu.Unlock()

	q.persist(ctx)
	q.metrics.Enqueued(resource, string(kind))
	q.updateGauges()

	q.logger.Debug("Action enqueued",
		"action_id", action.ID,
		"kind", kind,
		"resource", resource,
		"priority", priority)

	return action.ID, nil
}

// ExecuteAll runs every pending action sequentially in queue order.
// Success removes the action; failure increments its retry counter and
// leaves it queued. The queue is persisted once, at the end of the pass.
// Failures of one action never stop the rest of the batch; only ctx
// cancellation ends the pass early.
func (q *Queue) ExecuteAll(ctx context.Context) []Result {
	q.execMu.Lock()
	defer q.execMu.Unlock()

	pending := q.Pending()
	results := make([]Result, 0, len(pending))

	for _, action := range pending {
		if ctx.Err() != nil {
			q.logger.Warn("Execution pass interrupted", "remaining", len(pending)-len(results), "error", ctx.Err())
			break
		}

		err := q.execute(ctx, action)

		q.mu.Lock()
		if err == nil {
			q.removeLocked(action.ID)
		} else if current := q.findLocked(action.ID); current != nil {
			current.RetryCount++
			action.RetryCount = current.RetryCount
		}
		q.mu.Unlock()

		q.metrics.Executed(action.Resource, err == nil)

		if err != nil {
			q.logger.Warn("Action execution failed",
				"action_id", action.ID,
				"resource", action.Resource,
				"kind", action.Kind,
				"retry_count", action.RetryCount,
				"max_retries", q.maxRetries,
				"error", err)
		} else {
			q.logger.Debug("Action executed", "action_id", action.ID, "resource", action.Resource)
		}

		results = append(results, Result{Action: action, Success: err == nil, Err: err})
	}

	if len(results) > 0 {
		q.persist(ctx)
	}
	q.updateGauges()

	return results
}

// execute вызывает executor, превращая панику в ошибку
func (q *Queue) execute(ctx context.Context, action *models.Action) (err error) {
	q.mu.RLock()
	exec, ok := q.executors[action.Resource]
	q.mu.RUnlock()

	if !ok || exec == nil {
		return fmt.Errorf("%w: %s", ErrNoExecutor, action.Resource)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor for %s panicked: %v", action.Resource, r)
		}
	}()

	// Executor получает копию: действие в очереди меняется только через RetryCount
	return exec(ctx, action.Clone())
}

// Remove deletes the action with the given id. Reports whether it existed.
func (q *Queue) Remove(ctx context.Context, id string) bool {
	q.mu.Lock()
	removed := q.removeLocked(id)
	q.mu.Unlock()

	if removed {
		q.persist(ctx)
		q.updateGauges()
	}
	return removed
}

// Retry resets the retry counter of one action so it becomes pending again.
func (q *Queue) Retry(ctx context.Context, id string) bool {
	q.mu.Lock()
	action := q.findLocked(id)
	if action != nil {
		action.RetryCount = 0
	}
	q.mu.Unlock()

	if action == nil {
		return false
	}
	q.persist(ctx)
	q.updateGauges()
	return true
}

// RetryFailed resets the retry counters of every failed action and
// returns how many were reset.
func (q *Queue) RetryFailed(ctx context.Context) int {
	q.mu.Lock()
	reset := 0
	for _, action := range q.actions {
		if action.Failed(q.maxRetries) {
			action.RetryCount = 0
			reset++
		}
	}
	q.mu.Unlock()

	if reset > 0 {
		q.persist(ctx)
		q.updateGauges()
	}
	return reset
}

// ClearFailed removes every failed action and returns how many were removed.
func (q *Queue) ClearFailed(ctx context.Context) int {
	q.mu.Lock()
	kept := q.actions[:0]
	removed := 0
	for _, action := range q.actions {
		if action.Failed(q.maxRetries) {
			removed++
			continue
		}
		kept = append(kept, action)
	}
	q.actions = kept
	q.mu.Unlock()

	if removed > 0 {
		q.persist(ctx)
		q.updateGauges()
	}
	return removed
}

// Clear removes every action.
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	q.actions = nil
	q.mu.Unlock()

	q.persist(ctx)
	q.updateGauges()
}

// Pending returns copies of the actions still eligible for execution, in order.
func (q *Queue) Pending() []*models.Action {
	return q.filter(func(a *models.Action) bool { return !a.Failed(q.maxRetries) })
}

// Failed returns copies of the actions that exhausted their retries.
func (q *Queue) Failed() []*models.Action {
	return q.filter(func(a *models.Action) bool { return a.Failed(q.maxRetries) })
}

// All returns copies of every queued action, in order.
func (q *Queue) All() []*models.Action {
	return q.filter(func(*models.Action) bool { return true })
}

// Get returns a copy of the action with the given id.
func (q *Queue) Get(id string) (*models.Action, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if action := q.findLocked(id); action != nil {
		return action.Clone(), true
	}
	return nil, false
}

// Count returns the total number of queued actions.
func (q *Queue) Count() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.actions)
}

// Stats returns pending/failed/total counts.
func (q *Queue) Stats() models.QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := models.QueueStats{Total: len(q.actions)}
	for _, action := range q.actions {
		if action.Failed(q.maxRetries) {
			stats.Failed++
		} else {
			stats.Pending++
		}
	}
	return stats
}

func (q *Queue) filter(keep func(*models.Action) bool) []*models.Action {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*models.Action, 0, len(q.actions))
	for _, action := range q.actions {
		if keep(action) {
			result = append(result, action.Clone())
		}
	}
	return result
}

func (q *Queue) findLocked(id string) *models.Action {
	for _, action := range q.actions {
		if action.ID == id {
			return action
		}
	}
	return nil
}

func (q *Queue) removeLocked(id string) bool {
	for i, action := range q.actions {
		if action.ID == id {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			return true
		}
	}
	return false
}

// load восстанавливает очередь из хранилища
func (q *Queue) load(ctx context.Context) {
	data, err := q.store.Get(ctx, storage.KeyActions)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			q.logger.Error("Failed to read offline actions, starting with empty queue", "error", err)
			q.metrics.StorageFailure(storage.KeyActions, "read")
		}
		return
	}

	var actions []*models.Action
	if err := json.Unmarshal(data, &actions); err != nil {
		q.logger.Error("Offline actions are corrupted, resetting queue", "error", err, "bytes", len(data))
		q.metrics.StorageFailure(storage.KeyActions, "decode")
		return
	}

	loaded := make([]*models.Action, 0, len(actions))
	for _, action := range actions {
		if action != nil && action.ID != "" {
			loaded = append(loaded, action)
		}
	}
	sortActions(loaded)

	q.mu.Lock()
	q.actions = loaded
	q.mu.Unlock()

	q.logger.Info("Offline actions loaded", "count", len(loaded))
}

// persist сохраняет всю очередь. Ошибка записи не фатальна: работа продолжается
// в памяти, а потеря durability фиксируется в логе и метрике.
func (q *Queue) persist(ctx context.Context) {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.RLock()
	actions := q.actions
	if actions == nil {
		actions = []*models.Action{}
	}
	data, err := json.Marshal(actions)
	q.mu.RUnlock()

	if err != nil {
		q.logger.Error("Failed to serialize offline actions, persistence lost", "error", err)
		q.metrics.StorageFailure(storage.KeyActions, "encode")
		return
	}

	// Отмена вызывающего контекста не должна помешать сохранить уже сделанное
	if err := q.store.Set(context.WithoutCancel(ctx), storage.KeyActions, data); err != nil {
		q.logger.Error("Failed to persist offline actions, persistence lost", "error", err)
		q.metrics.StorageFailure(storage.KeyActions, "write")
	}
}

func (q *Queue) updateGauges() {
	if q.metrics == nil {
		return
	}
	stats := q.Stats()
	q.metrics.QueueSize(stats.Pending, stats.Failed)
}

func sortActions(actions []*models.Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Priority != actions[j].Priority {
			return actions[i].Priority < actions[j].Priority
		}
		return actions[i].EnqueuedAt.Before(actions[j].EnqueuedAt)
	})
}
