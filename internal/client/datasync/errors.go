package datasync

import "errors"

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrMissingTenant  = errors.New("tenant id is required")
	ErrNoStore        = errors.New("store is required")
	ErrNoFetcher      = errors.New("fetcher is required")
)
