package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/model"
	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/port/driven"
)

func newTestScheduler(users *mockUserStore, repos *mockRepoStore, statuses *mockSyncStatusStore, client *mockGitHubClient, cfg SchedulerConfig) *Scheduler {
	releases := NewReleaseService(users, repos, newMockReleaseStore(), factoryFor(client), ReleaseOptions{PerRepoDelay: -1})
	syncSvc := NewSyncService(users, repos, statuses, releases, factoryFor(client), SyncOptions{PostSyncReleaseLimit: -1})
	return NewScheduler(users, repos, statuses, syncSvc, releases, cfg)
}

func TestShouldSyncUser_FreshUser(t *testing.T) {
	statuses := newMockSyncStatusStore()
	s := newTestScheduler(newMockUserStore(testUser(1)), newMockRepoStore(), statuses, newMockGitHubClient(), SchedulerConfig{})

	ok, _, err := s.shouldSyncUser(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestShouldSyncUser_ActiveSync(t *testing.T) {
	statuses := newMockSyncStatusStore()
	statuses.seed(model.SyncStatus{
		ID: 1, UserID: 1, Status: model.SyncInProgress,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	})
	s := newTestScheduler(newMockUserStore(testUser(1)), newMockRepoStore(), statuses, newMockGitHubClient(), SchedulerConfig{})

	ok, reason, err := s.shouldSyncUser(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "sync in progress", reason)
}

func TestShouldSyncUser_RecentCompletedSync(t *testing.T) {
	statuses := newMockSyncStatusStore()
	statuses.seed(model.SyncStatus{
		ID: 1, UserID: 1, Status: model.SyncCompleted, Progress: 100,
		CreatedAt: time.Now().Add(-time.Hour), UpdatedAt: time.Now().Add(-time.Hour),
	})
	s := newTestScheduler(newMockUserStore(testUser(1)), newMockRepoStore(), statuses, newMockGitHubClient(), SchedulerConfig{})

	ok, reason, err := s.shouldSyncUser(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "synced recently", reason)
}

func TestShouldSyncUser_OldCompletedSync(t *testing.T) {
	statuses := newMockSyncStatusStore()
	statuses.seed(model.SyncStatus{
		ID: 1, UserID: 1, Status: model.SyncCompleted, Progress: 100,
		CreatedAt: time.Now().Add(-30 * time.Hour), UpdatedAt: time.Now().Add(-30 * time.Hour),
	})
	s := newTestScheduler(newMockUserStore(testUser(1)), newMockRepoStore(), statuses, newMockGitHubClient(), SchedulerConfig{})

	ok, _, err := s.shouldSyncUser(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestShouldSyncUser_FailureBackoff(t *testing.T) {
	statuses := newMockSyncStatusStore()
	statuses.seed(model.SyncStatus{
		ID: 1, UserID: 1, Status: model.SyncFailed, Error: "connection reset",
		ErrorKind: string(driven.KindTransient),
		CreatedAt: time.Now().Add(-10 * time.Minute), UpdatedAt: time.Now().Add(-10 * time.Minute),
	})
	s := newTestScheduler(newMockUserStore(testUser(1)), newMockRepoStore(), statuses, newMockGitHubClient(), SchedulerConfig{})

	ok, reason, err := s.shouldSyncUser(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "failure backoff", reason)
}

func TestShouldSyncUser_FailureBackoffExpired(t *testing.T) {
	statuses := newMockSyncStatusStore()
	statuses.seed(model.SyncStatus{
		ID: 1, UserID: 1, Status: model.SyncFailed, Error: "connection reset",
		ErrorKind: string(driven.KindTransient),
		CreatedAt: time.Now().Add(-time.Hour), UpdatedAt: time.Now().Add(-time.Hour),
	})
	s := newTestScheduler(newMockUserStore(testUser(1)), newMockRepoStore(), statuses, newMockGitHubClient(), SchedulerConfig{})

	ok, _, err := s.shouldSyncUser(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok, "a 30m transient backoff is over after an hour")
}

func TestShouldSyncUser_AuthFailureGetsLongerBackoff(t *testing.T) {
	statuses := newMockSyncStatusStore()
	statuses.seed(model.SyncStatus{
		ID: 1, UserID: 1, Status: model.SyncFailed, Error: "github: auth_failed (status 401)",
		ErrorKind: string(driven.KindAuthFailed),
		CreatedAt: time.Now().Add(-2 * time.Hour), UpdatedAt: time.Now().Add(-2 * time.Hour),
	})
	s := newTestScheduler(newMockUserStore(testUser(1)), newMockRepoStore(), statuses, newMockGitHubClient(), SchedulerConfig{})

	ok, reason, err := s.shouldSyncUser(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok, "retrying a dead credential every 30 minutes is pointless")
	assert.Equal(t, "failure backoff", reason)
}

func TestShouldSyncUser_SuccessAfterFailureClearsBackoff(t *testing.T) {
	statuses := newMockSyncStatusStore()
	statuses.seed(model.SyncStatus{
		ID: 1, UserID: 1, Status: model.SyncFailed, Error: "boom",
		CreatedAt: time.Now().Add(-10 * time.Minute), UpdatedAt: time.Now().Add(-10 * time.Minute),
	})
	statuses.seed(model.SyncStatus{
		ID: 2, UserID: 1, Status: model.SyncCompleted, Progress: 100,
		CreatedAt: time.Now().Add(-30 * time.Hour), UpdatedAt: time.Now().Add(-5 * time.Minute),
	})

	s := newTestScheduler(newMockUserStore(testUser(1)), newMockRepoStore(), statuses, newMockGitHubClient(), SchedulerConfig{})

	ok, reason, err := s.shouldSyncUser(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "synced recently", reason, "the recent success governs, not the older failure")
}

func TestIsAuthFailure(t *testing.T) {
	// Stored classification wins.
	assert.True(t, isAuthFailure("auth_failed", ""))
	assert.False(t, isAuthFailure("transient", "Bad credentials"))

	// Message sniffing only for unclassified legacy rows.
	assert.True(t, isAuthFailure("", "Bad credentials"))
	assert.True(t, isAuthFailure("", "Requires authentication"))
	assert.True(t, isAuthFailure("", "request failed with status 401"))
	assert.False(t, isAuthFailure("", "connection reset by peer"))
	assert.False(t, isAuthFailure("", "found 4011 repos"))
}

func TestSyncSweep_StartsDueUsersOnly(t *testing.T) {
	users := newMockUserStore(
		testUser(1),
		model.User{ID: 2, GitHubID: "gh-2", AccessToken: "gho_2"},
		model.User{ID: 3, GitHubID: "gh-3"}, // no token, not listed
	)
	statuses := newMockSyncStatusStore()
	// User 2 synced recently.
	statuses.seed(model.SyncStatus{
		ID: 1, UserID: 2, Status: model.SyncCompleted, Progress: 100,
		CreatedAt: time.Now().Add(-time.Hour), UpdatedAt: time.Now().Add(-time.Hour),
	})
	client := newMockGitHubClient()

	s := newTestScheduler(users, newMockRepoStore(), statuses, client, SchedulerConfig{})
	s.syncSweep(context.Background())

	require.Eventually(t, func() bool {
		latest, _ := statuses.GetLatest(context.Background(), 1)
		return latest != nil && latest.Status.Terminal()
	}, eventually, pollEvery, "user 1's sync should run to completion")

	latest2, err := statuses.GetLastCompleted(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest2.ID, "user 2 must not have been re-synced")
}

func TestVersionSweep_FetchesTrackedRepos(t *testing.T) {
	users := newMockUserStore(testUser(1))
	tracked := trackedRepo(10, 1, "octocat", "tracked")
	tracked.CustomTags = []string{"version-tracking"}
	untracked := trackedRepo(11, 1, "octocat", "untracked")
	repos := newMockRepoStore(tracked, untracked)
	client := newMockGitHubClient()

	s := newTestScheduler(users, repos, newMockSyncStatusStore(), client, SchedulerConfig{})
	s.versionSweep(context.Background())

	assert.Equal(t, []string{"octocat/tracked"}, client.fetchedRepos())
}

func TestVersionSweep_SkipsUsersWithActiveSync(t *testing.T) {
	users := newMockUserStore(testUser(1))
	tracked := trackedRepo(10, 1, "octocat", "tracked")
	tracked.CustomTags = []string{"version-tracking"}
	repos := newMockRepoStore(tracked)
	statuses := newMockSyncStatusStore()
	statuses.seed(model.SyncStatus{
		ID: 1, UserID: 1, Status: model.SyncInProgress,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	})
	client := newMockGitHubClient()

	s := newTestScheduler(users, repos, statuses, client, SchedulerConfig{})
	s.versionSweep(context.Background())

	assert.Empty(t, client.fetchedRepos(), "a running sync owns the quota")
}

func TestVersionSweep_CustomTag(t *testing.T) {
	users := newMockUserStore(testUser(1))
	tagged := trackedRepo(10, 1, "octocat", "pinned")
	tagged.CustomTags = []string{"deps"}
	repos := newMockRepoStore(tagged)
	client := newMockGitHubClient()

	s := newTestScheduler(users, repos, newMockSyncStatusStore(), client, SchedulerConfig{VersionTrackingTag: "deps"})
	s.versionSweep(context.Background())

	assert.Equal(t, []string{"octocat/pinned"}, client.fetchedRepos())
}

func TestScheduler_ReentrancyGuard(t *testing.T) {
	users := newMockUserStore()
	s := newTestScheduler(users, newMockRepoStore(), newMockSyncStatusStore(), newMockGitHubClient(), SchedulerConfig{})

	// Simulate a sweep still in flight; the tick must not start another.
	require.True(t, s.syncSweepRunning.CompareAndSwap(false, true))
	s.kickSyncSweep()
	assert.True(t, s.syncSweepRunning.Load(), "guard stays held by the first sweep")
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := newTestScheduler(newMockUserStore(), newMockRepoStore(), newMockSyncStatusStore(), newMockGitHubClient(), SchedulerConfig{})

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop must return even when Start was never called")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestScheduler(newMockUserStore(), newMockRepoStore(), newMockSyncStatusStore(), newMockGitHubClient(), SchedulerConfig{
		StartupDelay:    time.Hour, // never fires during the test
		SyncInterval:    time.Hour,
		VersionInterval: time.Hour,
	})

	s.Start()
	done := make(chan struct{})
	go func() {
		s.Stop()
		s.Stop() // idempotent
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
