package datasync

import (
	"context"
	"encoding/json"
)

//go:generate moq -out fetcher_mock.go . Fetcher

// FetchRequest selects records of one collection for one tenant.
// When Field is set only records whose Field is one of Keys are returned.
type FetchRequest struct {
	TenantID   string
	Collection string
	Field      string
	Keys       []string
}

// Fetcher reads records from the remote store.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) ([]json.RawMessage, error)
}
