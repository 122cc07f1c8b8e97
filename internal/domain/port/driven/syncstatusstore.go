package driven

import (
	"context"
	"time"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/model"
)

// AcquireResult reports the outcome of an attempt to start a sync.
// When Started is false, Status is the already-active in_progress row.
type AcquireResult struct {
	Started bool
	Status  model.SyncStatus
}

// SyncStatusStore defines the driven port for sync attempt records.
//
// Acquire is the concurrency guard: within one write transaction it checks
// for an active in_progress row and either returns it (Started=false), or
// flips a stale one (older than staleAfter) to failed and creates a fresh
// in_progress row (Started=true). Two concurrent Acquire calls for the same
// user must never both report Started=true.
type SyncStatusStore interface {
	Acquire(ctx context.Context, userID int64, staleAfter time.Duration) (*AcquireResult, error)

	// GetActiveInProgress returns the user's active in_progress row, or nil
	// when none exists. In_progress rows older than staleAfter are flipped
	// to failed as a side effect (stale-sync recovery) and not returned.
	GetActiveInProgress(ctx context.Context, userID int64, staleAfter time.Duration) (*model.SyncStatus, error)

	// UpdateProgress sets the progress of the row matched by id AND user id,
	// never "the latest row", so a finished attempt cannot clobber a newer one.
	UpdateProgress(ctx context.Context, id, userID int64, progress float64) error

	// MarkCompleted transitions the row to completed with progress 100.
	MarkCompleted(ctx context.Context, id, userID int64) error

	// MarkFailed transitions the row to failed with the given message and
	// error-kind classification.
	MarkFailed(ctx context.Context, id, userID int64, message, kind string) error

	// GetLatest returns the user's most recently created row, or nil.
	GetLatest(ctx context.Context, userID int64) (*model.SyncStatus, error)

	// GetLastCompleted returns the most recently updated completed row, or nil.
	GetLastCompleted(ctx context.Context, userID int64) (*model.SyncStatus, error)

	// GetLastFailed returns the most recently updated failed row, or nil.
	GetLastFailed(ctx context.Context, userID int64) (*model.SyncStatus, error)
}
