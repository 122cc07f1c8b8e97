package application

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/port/driven"
)

const (
	defaultStartupDelay       = 30 * time.Second
	defaultSyncInterval       = time.Hour
	defaultVersionInterval    = 6 * time.Hour
	defaultRecentSyncWindow   = 24 * time.Hour
	defaultFailureBackoff     = 30 * time.Minute
	defaultAuthFailureBackoff = 24 * time.Hour
	defaultVersionTrackingTag = "version-tracking"
)

// Legacy rows predate the error_kind column; their messages are the only
// signal left for telling a revoked token from a flaky network.
var authFailurePattern = regexp.MustCompile(`(?i)bad credentials|requires authentication|\b401\b`)

// SchedulerConfig tunes the background schedule. Zero values select the
// defaults.
type SchedulerConfig struct {
	// StartupDelay postpones the first tick so the process can finish
	// booting before it starts burning API quota. Negative means none.
	StartupDelay time.Duration

	// SyncInterval spaces star-sync sweeps; VersionInterval spaces release
	// sweeps over version-tracked repositories.
	SyncInterval    time.Duration
	VersionInterval time.Duration

	// RecentSyncWindow skips users whose last sync completed this recently.
	RecentSyncWindow time.Duration

	// FailureBackoff delays the retry after an ordinary failed sync;
	// AuthFailureBackoff applies instead when the failure was a credential
	// problem, which no amount of retrying fixes.
	FailureBackoff     time.Duration
	AuthFailureBackoff time.Duration

	// VersionTrackingTag selects which followed repositories the version
	// sweep covers.
	VersionTrackingTag string
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.StartupDelay == 0 {
		c.StartupDelay = defaultStartupDelay
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = defaultSyncInterval
	}
	if c.VersionInterval <= 0 {
		c.VersionInterval = defaultVersionInterval
	}
	if c.RecentSyncWindow <= 0 {
		c.RecentSyncWindow = defaultRecentSyncWindow
	}
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = defaultFailureBackoff
	}
	if c.AuthFailureBackoff <= 0 {
		c.AuthFailureBackoff = defaultAuthFailureBackoff
	}
	if c.VersionTrackingTag == "" {
		c.VersionTrackingTag = defaultVersionTrackingTag
	}
	return c
}

// Scheduler drives the periodic star syncs and release sweeps. It owns its
// timers: Start launches the loop, Stop cancels the startup delay and both
// tickers. Stop never aborts work already in flight.
type Scheduler struct {
	users    driven.UserStore
	repos    driven.RepoStore
	statuses driven.SyncStatusStore
	sync     *SyncService
	releases *ReleaseService
	cfg      SchedulerConfig

	// Re-entrancy guards: a slow sweep must not pile up behind its ticker.
	syncSweepRunning    atomic.Bool
	versionSweepRunning atomic.Bool

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler creates a Scheduler. Call Start to begin ticking.
func NewScheduler(
	users driven.UserStore,
	repos driven.RepoStore,
	statuses driven.SyncStatusStore,
	syncSvc *SyncService,
	releases *ReleaseService,
	cfg SchedulerConfig,
) *Scheduler {
	return &Scheduler{
		users:    users,
		repos:    repos,
		statuses: statuses,
		sync:     syncSvc,
		releases: releases,
		cfg:      cfg.withDefaults(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the scheduling loop in its own goroutine. Calling it more
// than once has no effect.
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run()
}

// Stop shuts the loop down. Idempotent, and safe on a scheduler that was
// never started; returns once the loop has exited. Sweeps already running
// keep running to completion.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.started.Load() {
		<-s.doneCh
	}
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	if s.cfg.StartupDelay > 0 {
		startup := time.NewTimer(s.cfg.StartupDelay)
		select {
		case <-s.stopCh:
			startup.Stop()
			return
		case <-startup.C:
		}
	}

	slog.Info("scheduler started",
		"sync_interval", s.cfg.SyncInterval,
		"version_interval", s.cfg.VersionInterval,
	)

	// First sweep right after the startup delay, then on the tickers.
	s.kickSyncSweep()
	s.kickVersionSweep()

	syncTicker := time.NewTicker(s.cfg.SyncInterval)
	defer syncTicker.Stop()
	versionTicker := time.NewTicker(s.cfg.VersionInterval)
	defer versionTicker.Stop()

	for {
		select {
		case <-s.stopCh:
			slog.Info("scheduler stopped")
			return
		case <-syncTicker.C:
			s.kickSyncSweep()
		case <-versionTicker.C:
			s.kickVersionSweep()
		}
	}
}

// kickSyncSweep runs one star-sync sweep unless the previous one is still
// going.
func (s *Scheduler) kickSyncSweep() {
	if !s.syncSweepRunning.CompareAndSwap(false, true) {
		slog.Warn("sync sweep still running, skipping tick")
		return
	}
	go func() {
		defer s.syncSweepRunning.Store(false)
		s.syncSweep(context.Background())
	}()
}

func (s *Scheduler) kickVersionSweep() {
	if !s.versionSweepRunning.CompareAndSwap(false, true) {
		slog.Warn("version sweep still running, skipping tick")
		return
	}
	go func() {
		defer s.versionSweepRunning.Store(false)
		s.versionSweep(context.Background())
	}()
}

// syncSweep starts a star sync for every user with a token that is due one.
func (s *Scheduler) syncSweep(ctx context.Context) {
	users, err := s.users.ListWithTokens(ctx)
	if err != nil {
		slog.Error("sync sweep: list users failed", "error", err)
		return
	}

	var started int
	for _, user := range users {
		ok, reason, err := s.shouldSyncUser(ctx, user.ID)
		if err != nil {
			slog.Error("sync sweep: user check failed", "user_id", user.ID, "error", err)
			continue
		}
		if !ok {
			slog.Debug("sync sweep: skipping user", "user_id", user.ID, "reason", reason)
			continue
		}

		if _, err := s.sync.SyncUserStars(ctx, user.ID); err != nil {
			slog.Error("sync sweep: start failed", "user_id", user.ID, "error", err)
			continue
		}
		started++
	}

	slog.Info("sync sweep complete", "users", len(users), "started", started)
}

// shouldSyncUser applies the skip rules: an active sync, a recent completed
// sync, or a failed sync still inside its backoff window all veto a new one.
func (s *Scheduler) shouldSyncUser(ctx context.Context, userID int64) (bool, string, error) {
	active, err := s.statuses.GetActiveInProgress(ctx, userID, s.sync.opts.StaleAfter)
	if err != nil {
		return false, "", err
	}
	if active != nil {
		return false, "sync in progress", nil
	}

	completed, err := s.statuses.GetLastCompleted(ctx, userID)
	if err != nil {
		return false, "", err
	}
	if completed != nil && time.Since(completed.UpdatedAt) < s.cfg.RecentSyncWindow {
		return false, "synced recently", nil
	}

	failed, err := s.statuses.GetLastFailed(ctx, userID)
	if err != nil {
		return false, "", err
	}
	if failed != nil {
		backoff := s.cfg.FailureBackoff
		if isAuthFailure(failed.ErrorKind, failed.Error) {
			backoff = s.cfg.AuthFailureBackoff
		}
		// Only a failure newer than the last success counts against the user.
		if (completed == nil || failed.UpdatedAt.After(completed.UpdatedAt)) &&
			time.Since(failed.UpdatedAt) < backoff {
			return false, "failure backoff", nil
		}
	}

	return true, "", nil
}

// versionSweep refreshes release data for every user's version-tracked
// repositories.
func (s *Scheduler) versionSweep(ctx context.Context) {
	users, err := s.users.ListWithTokens(ctx)
	if err != nil {
		slog.Error("version sweep: list users failed", "error", err)
		return
	}

	for _, user := range users {
		active, err := s.statuses.GetActiveInProgress(ctx, user.ID, s.sync.opts.StaleAfter)
		if err != nil {
			slog.Error("version sweep: user check failed", "user_id", user.ID, "error", err)
			continue
		}
		if active != nil {
			slog.Debug("version sweep: sync in progress, skipping user", "user_id", user.ID)
			continue
		}

		tracked, err := s.repos.ListFollowedByTag(ctx, user.ID, s.cfg.VersionTrackingTag)
		if err != nil {
			slog.Error("version sweep: list tracked repos failed", "user_id", user.ID, "error", err)
			continue
		}
		if len(tracked) == 0 {
			continue
		}

		ids := make([]int64, 0, len(tracked))
		for _, repo := range tracked {
			ids = append(ids, repo.ID)
		}

		result, err := s.releases.BulkFetchReleases(ctx, user.ID, len(ids), ids, BulkFetchOptions{
			MinFetchAge: s.cfg.VersionInterval,
		})
		if err != nil {
			slog.Error("version sweep: bulk fetch failed", "user_id", user.ID, "error", err)
			continue
		}

		slog.Info("version sweep: user done",
			"user_id", user.ID,
			"tracked", len(tracked),
			"processed", result.Processed,
			"successful", result.Successful,
			"failed", result.Failed,
			"skipped_rate_limit", result.SkippedRateLimit,
		)
	}
}

// isAuthFailure prefers the stored classification and falls back to message
// sniffing for rows written before classifications were recorded.
func isAuthFailure(kind, message string) bool {
	if kind != "" {
		return kind == string(driven.KindAuthFailed)
	}
	return authFailurePattern.MatchString(message)
}
