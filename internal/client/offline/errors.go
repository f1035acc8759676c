package offline

import "errors"

var (
	ErrOffline   = errors.New("network is offline")
	ErrNoQueue   = errors.New("action queue is required")
	ErrNoData    = errors.New("data sync manager is required")
	ErrNoMonitor = errors.New("network monitor is required")
	ErrNoAuth    = errors.New("auth provider is required")
)
