package models

import "time"

// SyncPhase is the current phase of remote replication.
type SyncPhase string

const (
	SyncIdle    SyncPhase = "idle"
	SyncSyncing SyncPhase = "syncing"
	SyncError   SyncPhase = "error"
	SyncOffline SyncPhase = "offline"
)

// SyncState is observed by the UI. It is never persisted.
type SyncState struct {
	Phase      SyncPhase `json:"status"`
	LastSynced time.Time `json:"lastSynced,omitempty"`
	Error      string    `json:"error,omitempty"`
}
