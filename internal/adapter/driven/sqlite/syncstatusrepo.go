package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/model"
	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SyncStatusStore = (*SyncStatusRepo)(nil)

// SyncStatusRepo is the SQLite implementation of the SyncStatusStore port
// interface. All check-and-create logic runs on the single-connection writer,
// so concurrent Acquire calls serialize at the database level.
type SyncStatusRepo struct {
	db *DB
}

// NewSyncStatusRepo creates a new SyncStatusRepo backed by the given DB.
func NewSyncStatusRepo(db *DB) *SyncStatusRepo {
	return &SyncStatusRepo{db: db}
}

const syncStatusColumns = `id, user_id, status, progress,
	COALESCE(error, ''), COALESCE(error_kind, ''), created_at, updated_at`

// Acquire atomically claims the right to run a sync for the user. If an
// in_progress row fresher than staleAfter exists it is returned with
// Started=false. A stale in_progress row is flipped to failed first, then a
// new in_progress row is created with Started=true.
func (r *SyncStatusRepo) Acquire(ctx context.Context, userID int64, staleAfter time.Duration) (*driven.AcquireResult, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin acquire: %w", err)
	}
	defer tx.Rollback()

	active, err := scanSyncStatus(tx.QueryRowContext(ctx,
		`SELECT `+syncStatusColumns+` FROM sync_statuses
			WHERE user_id = ? AND status = ?
			ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID, model.SyncInProgress))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find active sync: %w", err)
	}

	now := time.Now()
	if active != nil {
		if now.Sub(active.CreatedAt) < staleAfter {
			return &driven.AcquireResult{Started: false, Status: *active}, nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE sync_statuses SET status = ?, error = ?, error_kind = ?, updated_at = ?
				WHERE id = ? AND user_id = ? AND status = ?`,
			model.SyncFailed, "sync timed out", string(driven.KindTransient),
			fmtTime(now), active.ID, userID, model.SyncInProgress)
		if err != nil {
			return nil, fmt.Errorf("fail stale sync %d: %w", active.ID, err)
		}
	}

	fresh, err := scanSyncStatus(tx.QueryRowContext(ctx,
		`INSERT INTO sync_statuses (user_id, status, progress, created_at, updated_at)
			VALUES (?, ?, 0, ?, ?)
			RETURNING `+syncStatusColumns,
		userID, model.SyncInProgress, fmtTime(now), fmtTime(now)))
	if err != nil {
		return nil, fmt.Errorf("create sync status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit acquire: %w", err)
	}

	return &driven.AcquireResult{Started: true, Status: *fresh}, nil
}

// GetActiveInProgress returns the user's active in_progress row, or nil.
// A row older than staleAfter is flipped to failed and not returned.
func (r *SyncStatusRepo) GetActiveInProgress(ctx context.Context, userID int64, staleAfter time.Duration) (*model.SyncStatus, error) {
	active, err := scanSyncStatus(r.db.Reader.QueryRowContext(ctx,
		`SELECT `+syncStatusColumns+` FROM sync_statuses
			WHERE user_id = ? AND status = ?
			ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID, model.SyncInProgress))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active sync: %w", err)
	}

	if time.Since(active.CreatedAt) < staleAfter {
		return active, nil
	}

	_, err = r.db.Writer.ExecContext(ctx,
		`UPDATE sync_statuses SET status = ?, error = ?, error_kind = ?, updated_at = ?
			WHERE id = ? AND user_id = ? AND status = ?`,
		model.SyncFailed, "sync timed out", string(driven.KindTransient),
		fmtTime(time.Now()), active.ID, userID, model.SyncInProgress)
	if err != nil {
		return nil, fmt.Errorf("fail stale sync %d: %w", active.ID, err)
	}

	return nil, nil
}

// UpdateProgress sets the progress of an in_progress row. Matching on id and
// user id together means a stray goroutine from a superseded attempt cannot
// touch a newer row.
func (r *SyncStatusRepo) UpdateProgress(ctx context.Context, id, userID int64, progress float64) error {
	const query = `UPDATE sync_statuses SET progress = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND status = ?`

	_, err := r.db.Writer.ExecContext(ctx, query,
		progress, fmtTime(time.Now()), id, userID, model.SyncInProgress)
	if err != nil {
		return fmt.Errorf("update progress for sync %d: %w", id, err)
	}

	return nil
}

// MarkCompleted transitions the row to completed with full progress.
func (r *SyncStatusRepo) MarkCompleted(ctx context.Context, id, userID int64) error {
	const query = `UPDATE sync_statuses SET status = ?, progress = 100, updated_at = ?
		WHERE id = ? AND user_id = ? AND status = ?`

	_, err := r.db.Writer.ExecContext(ctx, query,
		model.SyncCompleted, fmtTime(time.Now()), id, userID, model.SyncInProgress)
	if err != nil {
		return fmt.Errorf("mark sync %d completed: %w", id, err)
	}

	return nil
}

// MarkFailed transitions the row to failed with the given message and kind.
func (r *SyncStatusRepo) MarkFailed(ctx context.Context, id, userID int64, message, kind string) error {
	const query = `UPDATE sync_statuses SET status = ?, error = ?, error_kind = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND status = ?`

	_, err := r.db.Writer.ExecContext(ctx, query,
		model.SyncFailed, message, kind, fmtTime(time.Now()), id, userID, model.SyncInProgress)
	if err != nil {
		return fmt.Errorf("mark sync %d failed: %w", id, err)
	}

	return nil
}

// GetLatest returns the user's most recently created row, or nil.
func (r *SyncStatusRepo) GetLatest(ctx context.Context, userID int64) (*model.SyncStatus, error) {
	return r.getOne(ctx,
		`SELECT `+syncStatusColumns+` FROM sync_statuses
			WHERE user_id = ?
			ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID)
}

// GetLastCompleted returns the user's most recently finished completed row, or nil.
func (r *SyncStatusRepo) GetLastCompleted(ctx context.Context, userID int64) (*model.SyncStatus, error) {
	return r.getOne(ctx,
		`SELECT `+syncStatusColumns+` FROM sync_statuses
			WHERE user_id = ? AND status = ?
			ORDER BY updated_at DESC, id DESC LIMIT 1`,
		userID, model.SyncCompleted)
}

// GetLastFailed returns the user's most recently finished failed row, or nil.
func (r *SyncStatusRepo) GetLastFailed(ctx context.Context, userID int64) (*model.SyncStatus, error) {
	return r.getOne(ctx,
		`SELECT `+syncStatusColumns+` FROM sync_statuses
			WHERE user_id = ? AND status = ?
			ORDER BY updated_at DESC, id DESC LIMIT 1`,
		userID, model.SyncFailed)
}

func (r *SyncStatusRepo) getOne(ctx context.Context, query string, args ...any) (*model.SyncStatus, error) {
	status, err := scanSyncStatus(r.db.Reader.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync status: %w", err)
	}

	return status, nil
}

func scanSyncStatus(s scanner) (*model.SyncStatus, error) {
	var status model.SyncStatus
	var createdAt, updatedAt string

	err := s.Scan(&status.ID, &status.UserID, &status.Status, &status.Progress,
		&status.Error, &status.ErrorKind, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if status.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if status.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &status, nil
}
