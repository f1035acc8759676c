// Package datasync downloads a full snapshot of the remote working set into
// the local read cache.
package datasync

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/metrics"
	"github.com/iudanet/offsync/internal/models"
)

// PhaseComplete is reported once after every phase has finished.
const PhaseComplete = "complete"

// ProgressFunc receives download progress. May be nil.
type ProgressFunc func(models.SyncProgress)

// Config configures a Manager.
type Config struct {
	Store   storage.Store
	Fetcher Fetcher
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	Phases  []Phase // по умолчанию DefaultPhases()
}

// Manager owns the local snapshot. Downloads are single-flight and replace
// the snapshot wholesale; readers never observe a partially built one.
type Manager struct {
	store     storage.Store
	fetcher   Fetcher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	snapshot  *models.Snapshot
	phases    []Phase
	mu        sync.RWMutex
	persistMu sync.Mutex
	syncing   atomic.Bool
}

// New creates a manager and loads the persisted snapshot.
// A corrupt or unreadable entry starts from an empty snapshot.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, ErrNoStore
	}
	if cfg.Fetcher == nil {
		return nil, ErrNoFetcher
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.Phases) == 0 {
		cfg.Phases = DefaultPhases()
	}

	phases := make([]Phase, len(cfg.Phases))
	copy(phases, cfg.Phases)

	m := &Manager{
		store:    cfg.Store,
		fetcher:  cfg.Fetcher,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		phases:   phases,
		snapshot: models.NewSnapshot(),
	}

	m.load(ctx)

	return m, nil
}

// Download fetches every phase for tenantID and atomically swaps in the
// resulting snapshot. A call made while another download is running fails
// immediately with ErrSyncInProgress. On any error the current snapshot is
// left untouched.
func (m *Manager) Download(ctx context.Context, tenantID string, onProgress ProgressFunc) error {
	if tenantID == "" {
		return ErrMissingTenant
	}
	if !m.syncing.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer m.syncing.Store(false)

	m.logger.Info("Starting snapshot download", "tenant_id", tenantID, "phases", len(m.phases))
	started := m.now()

	collections, err := m.fetchAll(ctx, tenantID, onProgress)
	if err != nil {
		m.metrics.Downloaded(false)
		m.logger.Error("Snapshot download failed", "tenant_id", tenantID, "error", err)
		return err
	}

	syncedAt := m.now().UTC()
	next := &models.Snapshot{
		Collections: collections,
		LastSyncAt:  &syncedAt,
		TenantID:    tenantID,
	}

	m.mu.Lock()
	m.snapshot = next
	m.mu.Unlock()

	m.persist(ctx)
	m.metrics.Downloaded(true)

	m.report(onProgress, models.SyncProgress{
		Phase:   PhaseComplete,
		Current: len(m.phases),
		Total:   len(m.phases),
		Message: "Download complete",
	})

	m.logger.Info("Snapshot download completed",
		"tenant_id", tenantID,
		"counts", next.Counts(),
		"duration", m.now().Sub(started))

	return nil
}

// fetchAll строит новый набор коллекций, не трогая текущий снимок
func (m *Manager) fetchAll(ctx context.Context, tenantID string, onProgress ProgressFunc) (map[string][]json.RawMessage, error) {
	collections := make(map[string][]json.RawMessage, len(m.phases))
	total := len(m.phases)

	for i, phase := range m.phases {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("download cancelled before %s: %w", phase.Collection, err)
		}

		m.report(onProgress, models.SyncProgress{
			Phase:   phase.Collection,
			Current: i,
			Total:   total,
			Message: phase.Message,
		})

		req := FetchRequest{TenantID: tenantID, Collection: phase.Collection}
		if phase.Dependent() {
			keys := collectKeys(collections[phase.Source], phase.SourceField)
			if len(keys) == 0 {
				// родительская коллекция пуста: запрашивать нечего
				collections[phase.Collection] = []json.RawMessage{}
				continue
			}
			req.Field = phase.Field
			req.Keys = keys
		}

		records, err := m.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", phase.Collection, err)
		}
		if records == nil {
			records = []json.RawMessage{}
		}
		collections[phase.Collection] = records

		m.logger.Debug("Phase downloaded", "phase", phase.Collection, "records", len(records))
	}

	return collections, nil
}

func (m *Manager) report(onProgress ProgressFunc, p models.SyncProgress) {
	if onProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Progress callback panicked", "phase", p.Phase, "panic", r)
		}
	}()
	onProgress(p)
}

// Clear empties every collection and resets the last sync time.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	m.snapshot = models.NewSnapshot()
	m.mu.Unlock()

	m.persist(ctx)
	m.logger.Info("Local snapshot cleared")
}

// Stats returns per-collection counts, last sync time, serialized size and digest.
func (m *Manager) Stats() models.DataStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := models.DataStats{
		Counts:     m.snapshot.Counts(),
		LastSyncAt: copyTime(m.snapshot.LastSyncAt),
	}

	data, err := json.Marshal(m.snapshot)
	if err != nil {
		m.logger.Warn("Failed to serialize snapshot for stats", "error", err)
		return stats
	}
	sum := blake2b.Sum256(data)
	stats.Digest = hex.EncodeToString(sum[:])
	stats.SizeBytes = len(data)

	return stats
}

// Collection returns the cached records of one collection.
func (m *Manager) Collection(name string) []json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.snapshot.Collections[name]
	out := make([]json.RawMessage, len(records))
	copy(out, records)
	return out
}

// Snapshot returns a shallow copy of the current snapshot.
func (m *Manager) Snapshot() *models.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := models.NewSnapshot()
	out.TenantID = m.snapshot.TenantID
	out.LastSyncAt = copyTime(m.snapshot.LastSyncAt)
	for name, records := range m.snapshot.Collections {
		out.Collections[name] = append([]json.RawMessage(nil), records...)
	}
	return out
}

// LastSync returns the time of the last successful download, or nil.
func (m *Manager) LastSync() *time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyTime(m.snapshot.LastSyncAt)
}

// IsSyncing reports whether a download is running.
func (m *Manager) IsSyncing() bool {
	return m.syncing.Load()
}

func (m *Manager) load(ctx context.Context) {
	data, err := m.store.Get(ctx, storage.KeyData)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Error("Failed to read offline data, starting with empty snapshot", "error", err)
			m.metrics.StorageFailure(storage.KeyData, "read")
		}
		return
	}

	snapshot := models.NewSnapshot()
	if err := json.Unmarshal(data, snapshot); err != nil {
		m.logger.Error("Offline data is corrupted, resetting snapshot", "error", err, "bytes", len(data))
		m.metrics.StorageFailure(storage.KeyData, "decode")
		return
	}
	if snapshot.Collections == nil {
		snapshot.Collections = make(map[string][]json.RawMessage)
	}

	m.mu.Lock()
	m.snapshot = snapshot
	m.mu.Unlock()

	m.logger.Info("Offline data loaded", "counts", snapshot.Counts(), "last_sync_at", snapshot.LastSyncAt)
}

// persist сохраняет текущий снимок; ошибки только логируются и считаются
func (m *Manager) persist(ctx context.Context) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.RLock()
	data, err := json.Marshal(m.snapshot)
	m.mu.RUnlock()

	if err != nil {
		m.logger.Error("Failed to serialize offline data, persistence lost", "error", err)
		m.metrics.StorageFailure(storage.KeyData, "encode")
		return
	}

	if err := m.store.Set(context.WithoutCancel(ctx), storage.KeyData, data); err != nil {
		m.logger.Error("Failed to persist offline data, persistence lost", "error", err)
		m.metrics.StorageFailure(storage.KeyData, "write")
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
