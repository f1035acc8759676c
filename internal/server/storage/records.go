package storage

import (
	"context"
	"encoding/json"
)

// Write identifies a single mutation of a record.
type Write struct {
	TenantID       string
	Collection     string
	ID             string
	ActorID        string
	IdempotencyKey string // пустой ключ отключает дедупликацию
}

// Query selects records of one collection. When Field is set only records
// whose Field value is one of Keys are returned.
type Query struct {
	TenantID   string
	Collection string
	Field      string
	Keys       []string
}

// RecordStorage defines interface for tenant records persistence
type RecordStorage interface {
	// SaveRecord creates or replaces the record w.ID.
	// Returns the stored record and true if w.IdempotencyKey was already
	// processed; in that case nothing is written and the first result is returned.
	SaveRecord(ctx context.Context, w Write, record json.RawMessage) (json.RawMessage, bool, error)

	// DeleteRecord removes the record w.ID.
	// Returns ErrRecordNotFound if record doesn't exist and the key is new.
	DeleteRecord(ctx context.Context, w Write) (bool, error)

	// ListRecords returns records in creation order.
	// Returns empty slice if no records found
	ListRecords(ctx context.Context, q Query) ([]json.RawMessage, error)
}
