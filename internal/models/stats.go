package models

import "time"

// QueueStats summarizes the action queue.
type QueueStats struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// DataStats summarizes the local snapshot.
type DataStats struct {
	Counts     map[string]int `json:"counts"`
	LastSyncAt *time.Time     `json:"last_sync_at"`
	Digest     string         `json:"digest"`     // Digest blake2b-256 сериализованного снимка
	SizeBytes  int            `json:"size_bytes"` // SizeBytes приблизительный размер в сериализованном виде
}

// Stats is the aggregated view exposed to the UI layer.
type Stats struct {
	Data      DataStats  `json:"data"`
	Queue     QueueStats `json:"queue"`
	IsOnline  bool       `json:"is_online"`
	IsSyncing bool       `json:"is_syncing"`
}
