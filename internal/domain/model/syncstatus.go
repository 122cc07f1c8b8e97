package model

import "time"

// SyncState is the lifecycle state of one sync attempt.
type SyncState string

const (
	SyncPending    SyncState = "pending"
	SyncInProgress SyncState = "in_progress"
	SyncCompleted  SyncState = "completed"
	SyncFailed     SyncState = "failed"
)

// Terminal reports whether the state permits no further transitions.
func (s SyncState) Terminal() bool {
	return s == SyncCompleted || s == SyncFailed
}

// SyncStatus is the audit/state record of one star-sync attempt. Terminal
// rows are immutable history; at most one in_progress row per user is
// considered active (older ones are flipped to failed on inspection).
type SyncStatus struct {
	ID       int64
	UserID   int64
	Status   SyncState
	Progress float64

	// Error holds the human-readable failure message; ErrorKind holds the
	// API-client classification ("auth_failed", "rate_limited", ...) so the
	// scheduler's backoff decision does not re-parse message strings.
	Error     string
	ErrorKind string

	CreatedAt time.Time
	UpdatedAt time.Time
}
