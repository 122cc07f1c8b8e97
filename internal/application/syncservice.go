// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/model"
	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/port/driven"
)

// ErrNoAccessToken is returned when a sync is requested for a user without a
// stored credential.
var ErrNoAccessToken = errors.New("user has no access token")

const (
	defaultSyncStaleAfter       = 2 * time.Hour
	defaultSyncBatchSize        = 100
	defaultPostSyncReleaseLimit = 30
)

// SyncOptions tunes the sync engine. Zero values select the defaults; tests
// shrink the batch size to exercise batching without hundreds of fixtures.
type SyncOptions struct {
	// StaleAfter is how long an in_progress status may live before it is
	// presumed dead and replaced.
	StaleAfter time.Duration

	// BatchSize is the number of repositories upserted per transaction.
	BatchSize int

	// PostSyncReleaseLimit bounds the best-effort release fetch that follows
	// a completed sync. Zero keeps the default; negative disables it.
	PostSyncReleaseLimit int
}

func (o SyncOptions) withDefaults() SyncOptions {
	if o.StaleAfter <= 0 {
		o.StaleAfter = defaultSyncStaleAfter
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultSyncBatchSize
	}
	if o.PostSyncReleaseLimit == 0 {
		o.PostSyncReleaseLimit = defaultPostSyncReleaseLimit
	}
	return o
}

// StartResult reports the outcome of a sync request. Started is false when an
// active sync already existed; Status is the row the caller should watch
// either way.
type StartResult struct {
	Started bool
	Status  model.SyncStatus
}

// SyncStatusSummary is the read model for the sync status endpoint.
type SyncStatusSummary struct {
	Latest        *model.SyncStatus
	LastCompleted *model.SyncStatus
}

// SyncService reconciles a user's locally stored repositories with the
// remote starred list.
type SyncService struct {
	users     driven.UserStore
	repos     driven.RepoStore
	statuses  driven.SyncStatusStore
	releases  *ReleaseService
	newClient GitHubClientFactory
	opts      SyncOptions
}

// NewSyncService creates a new SyncService with all required dependencies.
// releases may be nil, which disables the post-sync release fetch.
func NewSyncService(
	users driven.UserStore,
	repos driven.RepoStore,
	statuses driven.SyncStatusStore,
	releases *ReleaseService,
	newClient GitHubClientFactory,
	opts SyncOptions,
) *SyncService {
	return &SyncService{
		users:     users,
		repos:     repos,
		statuses:  statuses,
		releases:  releases,
		newClient: newClient,
		opts:      opts.withDefaults(),
	}
}

// SyncUserStars starts a background star sync for the user, unless one is
// already running. The status-row guard and the new row are created in one
// write transaction before the worker goroutine is spawned, so two
// overlapping requests can never both start.
//
// The returned Status reflects the moment of the call; the caller polls
// GetSyncStatus for progress.
func (s *SyncService) SyncUserStars(ctx context.Context, userID int64) (*StartResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("sync for user %d: %w", userID, driven.ErrUserNotFound)
	}
	if !user.HasToken() {
		return nil, fmt.Errorf("sync for user %d: %w", userID, ErrNoAccessToken)
	}

	res, err := s.statuses.Acquire(ctx, userID, s.opts.StaleAfter)
	if err != nil {
		return nil, fmt.Errorf("acquire sync for user %d: %w", userID, err)
	}
	if !res.Started {
		slog.Info("sync already running", "user_id", userID, "sync_id", res.Status.ID)
		return &StartResult{Started: false, Status: res.Status}, nil
	}

	// The worker must outlive the triggering request, so it gets the values
	// of ctx without its cancellation.
	go s.runSync(context.WithoutCancel(ctx), *user, res.Status)

	return &StartResult{Started: true, Status: res.Status}, nil
}

// GetSyncStatus returns the user's latest sync row plus the last completed
// one. Reading applies the same staleness transition as starting: a presumed
// dead in_progress row is flipped to failed before the summary is built.
func (s *SyncService) GetSyncStatus(ctx context.Context, userID int64) (*SyncStatusSummary, error) {
	if _, err := s.statuses.GetActiveInProgress(ctx, userID, s.opts.StaleAfter); err != nil {
		return nil, err
	}

	latest, err := s.statuses.GetLatest(ctx, userID)
	if err != nil {
		return nil, err
	}
	completed, err := s.statuses.GetLastCompleted(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &SyncStatusSummary{Latest: latest, LastCompleted: completed}, nil
}

// ActiveSync reports the user's currently running sync, or nil.
func (s *SyncService) ActiveSync(ctx context.Context, userID int64) (*model.SyncStatus, error) {
	return s.statuses.GetActiveInProgress(ctx, userID, s.opts.StaleAfter)
}

// runSync is the background reconciliation worker. It owns exactly one status
// row and reports every outcome, success or failure, to that row only.
func (s *SyncService) runSync(ctx context.Context, user model.User, status model.SyncStatus) {
	start := time.Now()
	client := s.newClient(user.AccessToken)

	fetched, err := client.FetchAllStarredRepos(ctx)
	if err != nil {
		s.failSync(ctx, status, err)
		return
	}

	s.backfillEmail(ctx, user, client)

	total := len(fetched)
	keep := make([]string, 0, total)
	for _, repo := range fetched {
		keep = append(keep, repo.GitHubID)
	}

	processed := 0
	for offset := 0; offset < total; offset += s.opts.BatchSize {
		end := min(offset+s.opts.BatchSize, total)

		if err := s.repos.UpsertBatch(ctx, user.ID, fetched[offset:end]); err != nil {
			s.failSync(ctx, status, err)
			return
		}

		processed = end
		progress := float64(processed) / float64(total) * 100
		if err := s.statuses.UpdateProgress(ctx, status.ID, user.ID, progress); err != nil {
			slog.Error("progress update failed", "user_id", user.ID, "sync_id", status.ID, "error", err)
		}
	}

	// Rows absent from the fetched list were unstarred remotely. A zero-star
	// result is valid and clears everything.
	deleted, err := s.repos.DeleteNotIn(ctx, user.ID, keep)
	if err != nil {
		s.failSync(ctx, status, err)
		return
	}

	if err := s.statuses.MarkCompleted(ctx, status.ID, user.ID); err != nil {
		slog.Error("mark completed failed", "user_id", user.ID, "sync_id", status.ID, "error", err)
		return
	}

	slog.Info("star sync complete",
		"user_id", user.ID,
		"sync_id", status.ID,
		"starred", total,
		"removed", deleted,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	s.postSyncReleaseFetch(ctx, user.ID, client)
}

// failSync marks the owning status row failed with the message and the kind
// classified at the API boundary, so later backoff decisions need no string
// parsing.
func (s *SyncService) failSync(ctx context.Context, status model.SyncStatus, cause error) {
	kind := string(driven.KindOf(cause))

	slog.Error("star sync failed",
		"user_id", status.UserID,
		"sync_id", status.ID,
		"kind", kind,
		"error", cause,
	)

	if err := s.statuses.MarkFailed(ctx, status.ID, status.UserID, cause.Error(), kind); err != nil {
		slog.Error("mark failed failed", "user_id", status.UserID, "sync_id", status.ID, "error", err)
	}
}

// backfillEmail fills a missing email from the remote profile. Best effort.
func (s *SyncService) backfillEmail(ctx context.Context, user model.User, client driven.GitHubClient) {
	if user.Email != "" {
		return
	}

	profile, err := client.FetchUserProfile(ctx)
	if err != nil {
		slog.Warn("profile fetch failed", "user_id", user.ID, "error", err)
		return
	}
	if profile.Email == "" {
		return
	}

	if err := s.users.UpdateEmail(ctx, user.ID, profile.Email); err != nil {
		slog.Warn("email backfill failed", "user_id", user.ID, "error", err)
	}
}

// postSyncReleaseFetch refreshes release data for the stalest repositories
// right after a sync, reusing the sync's client so the quota bookkeeping
// carries over. Best effort: failures are logged, never surfaced.
func (s *SyncService) postSyncReleaseFetch(ctx context.Context, userID int64, client driven.GitHubClient) {
	if s.releases == nil || s.opts.PostSyncReleaseLimit < 0 {
		return
	}

	result, err := s.releases.BulkFetchReleases(ctx, userID, s.opts.PostSyncReleaseLimit, nil, BulkFetchOptions{
		Client: client,
	})
	if err != nil {
		slog.Warn("post-sync release fetch failed", "user_id", userID, "error", err)
		return
	}

	slog.Info("post-sync release fetch",
		"user_id", userID,
		"processed", result.Processed,
		"successful", result.Successful,
		"failed", result.Failed,
		"skipped_rate_limit", result.SkippedRateLimit,
	)
}
