package models

import (
	"encoding/json"
	"time"
)

// Snapshot is the wholesale-replaced local cache of remote read data.
// It is never patched incrementally: each download builds a new one.
type Snapshot struct {
	Collections map[string][]json.RawMessage `json:"collections"`
	LastSyncAt  *time.Time                   `json:"last_sync_at"` // nil пока не было успешной загрузки
	TenantID    string                       `json:"tenant_id"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Collections: make(map[string][]json.RawMessage)}
}

// Counts returns the number of records per collection.
func (s *Snapshot) Counts() map[string]int {
	counts := make(map[string]int, len(s.Collections))
	for name, records := range s.Collections {
		counts[name] = len(records)
	}
	return counts
}

// SyncProgress is emitted before each download phase. Not persisted.
type SyncProgress struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}
