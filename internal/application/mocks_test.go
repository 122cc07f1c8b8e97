package application

import (
	"context"
	"sync"
	"time"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/model"
	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/port/driven"
)

// --- Mock implementations ---
//
// The sync worker runs on its own goroutine, so every mock that it touches is
// mutex-protected and asserted through assert.Eventually.

type mockUserStore struct {
	mu           sync.Mutex
	users        map[int64]model.User
	emailUpdates map[int64]string
}

func newMockUserStore(users ...model.User) *mockUserStore {
	m := &mockUserStore{
		users:        make(map[int64]model.User),
		emailUpdates: make(map[int64]string),
	}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserStore) GetByID(_ context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *mockUserStore) Upsert(_ context.Context, user model.User) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return &user, nil
}

func (m *mockUserStore) UpdateEmail(_ context.Context, id int64, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return driven.ErrUserNotFound
	}
	u.Email = email
	m.users[id] = u
	m.emailUpdates[id] = email
	return nil
}

func (m *mockUserStore) ListWithTokens(_ context.Context) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.User
	for _, u := range m.users {
		if u.HasToken() {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *mockUserStore) emailUpdate(id int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email, ok := m.emailUpdates[id]
	return email, ok
}

type deleteNotInCall struct {
	userID int64
	keep   []string
}

type mockRepoStore struct {
	mu            sync.Mutex
	repos         map[int64]model.Repository
	upsertBatches [][]model.Repository
	upsertErr     error
	deleteCalls   []deleteNotInCall
	touched       map[int64]time.Time
}

func newMockRepoStore(repos ...model.Repository) *mockRepoStore {
	m := &mockRepoStore{
		repos:   make(map[int64]model.Repository),
		touched: make(map[int64]time.Time),
	}
	for _, r := range repos {
		m.repos[r.ID] = r
	}
	return m
}

func (m *mockRepoStore) GetByID(_ context.Context, id int64) (*model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *mockRepoStore) UpsertBatch(_ context.Context, userID int64, repos []model.Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	batch := make([]model.Repository, len(repos))
	copy(batch, repos)
	m.upsertBatches = append(m.upsertBatches, batch)
	return nil
}

func (m *mockRepoStore) DeleteNotIn(_ context.Context, userID int64, keep []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls = append(m.deleteCalls, deleteNotInCall{userID: userID, keep: keep})
	return 0, nil
}

func (m *mockRepoStore) ListByIDs(_ context.Context, userID int64, ids []int64) ([]model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Repository
	for _, id := range ids {
		if r, ok := m.repos[id]; ok && r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRepoStore) ListNeedingReleaseFetch(_ context.Context, userID int64, cutoff time.Time, limit int) ([]model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Repository
	for _, r := range m.repos {
		if r.UserID != userID {
			continue
		}
		if r.ReleasesLastFetched == nil || r.ReleasesLastFetched.Before(cutoff) {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockRepoStore) ListFollowedByTag(_ context.Context, userID int64, tag string) ([]model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Repository
	for _, r := range m.repos {
		if r.UserID != userID || !r.IsFollowed {
			continue
		}
		for _, t := range r.CustomTags {
			if t == tag {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (m *mockRepoStore) UpdateVersionTracking(_ context.Context, repo *model.Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repos[repo.ID]; !ok {
		return driven.ErrRepoNotFound
	}
	m.repos[repo.ID] = *repo
	return nil
}

func (m *mockRepoStore) TouchReleasesFetched(_ context.Context, repoID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[repoID] = at
	if r, ok := m.repos[repoID]; ok {
		r.ReleasesLastFetched = &at
		m.repos[repoID] = r
	}
	return nil
}

func (m *mockRepoStore) get(id int64) model.Repository {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repos[id]
}

func (m *mockRepoStore) batches() [][]model.Repository {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertBatches
}

func (m *mockRepoStore) deletes() []deleteNotInCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteCalls
}

type mockReleaseStore struct {
	mu       sync.Mutex
	nextID   int64
	releases map[int64][]model.Release
}

func newMockReleaseStore() *mockReleaseStore {
	return &mockReleaseStore{releases: make(map[int64][]model.Release)}
}

func (m *mockReleaseStore) Upsert(_ context.Context, release model.Release) (*model.Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.releases[release.RepoID]
	for i, r := range stored {
		if r.GitHubReleaseID == release.GitHubReleaseID {
			release.ID = r.ID
			stored[i] = release
			return &release, nil
		}
	}
	m.nextID++
	release.ID = m.nextID
	m.releases[release.RepoID] = append(stored, release)
	return &release, nil
}

func (m *mockReleaseStore) ListByRepo(_ context.Context, repoID int64) ([]model.Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Release(nil), m.releases[repoID]...), nil
}

func (m *mockReleaseStore) GetByTag(_ context.Context, repoID int64, tag string) (*model.Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.releases[repoID] {
		if r.TagName == tag {
			return &r, nil
		}
	}
	return nil, nil
}

// mockSyncStatusStore is a thread-safe in-memory SyncStatusStore faithful to
// the guard semantics the worker relies on.
type mockSyncStatusStore struct {
	mu       sync.Mutex
	nextID   int64
	statuses []model.SyncStatus
	progress map[int64][]float64
}

func newMockSyncStatusStore() *mockSyncStatusStore {
	return &mockSyncStatusStore{progress: make(map[int64][]float64)}
}

func (m *mockSyncStatusStore) Acquire(_ context.Context, userID int64, staleAfter time.Duration) (*driven.AcquireResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if active := m.activeLocked(userID); active != nil {
		if time.Since(active.CreatedAt) < staleAfter {
			return &driven.AcquireResult{Started: false, Status: *active}, nil
		}
		active.Status = model.SyncFailed
		active.Error = "sync timed out"
		active.ErrorKind = string(driven.KindTransient)
		active.UpdatedAt = time.Now()
	}

	m.nextID++
	status := model.SyncStatus{
		ID:        m.nextID,
		UserID:    userID,
		Status:    model.SyncInProgress,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.statuses = append(m.statuses, status)
	return &driven.AcquireResult{Started: true, Status: status}, nil
}

func (m *mockSyncStatusStore) activeLocked(userID int64) *model.SyncStatus {
	for i := len(m.statuses) - 1; i >= 0; i-- {
		if m.statuses[i].UserID == userID && m.statuses[i].Status == model.SyncInProgress {
			return &m.statuses[i]
		}
	}
	return nil
}

func (m *mockSyncStatusStore) GetActiveInProgress(_ context.Context, userID int64, staleAfter time.Duration) (*model.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := m.activeLocked(userID)
	if active == nil {
		return nil, nil
	}
	if time.Since(active.CreatedAt) >= staleAfter {
		active.Status = model.SyncFailed
		active.Error = "sync timed out"
		active.ErrorKind = string(driven.KindTransient)
		active.UpdatedAt = time.Now()
		return nil, nil
	}
	out := *active
	return &out, nil
}

func (m *mockSyncStatusStore) UpdateProgress(_ context.Context, id, userID int64, progress float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.statuses {
		if m.statuses[i].ID == id && m.statuses[i].UserID == userID && m.statuses[i].Status == model.SyncInProgress {
			m.statuses[i].Progress = progress
			m.statuses[i].UpdatedAt = time.Now()
			m.progress[id] = append(m.progress[id], progress)
		}
	}
	return nil
}

func (m *mockSyncStatusStore) MarkCompleted(_ context.Context, id, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.statuses {
		if m.statuses[i].ID == id && m.statuses[i].UserID == userID && m.statuses[i].Status == model.SyncInProgress {
			m.statuses[i].Status = model.SyncCompleted
			m.statuses[i].Progress = 100
			m.statuses[i].UpdatedAt = time.Now()
		}
	}
	return nil
}

func (m *mockSyncStatusStore) MarkFailed(_ context.Context, id, userID int64, message, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.statuses {
		if m.statuses[i].ID == id && m.statuses[i].UserID == userID && m.statuses[i].Status == model.SyncInProgress {
			m.statuses[i].Status = model.SyncFailed
			m.statuses[i].Error = message
			m.statuses[i].ErrorKind = kind
			m.statuses[i].UpdatedAt = time.Now()
		}
	}
	return nil
}

func (m *mockSyncStatusStore) GetLatest(_ context.Context, userID int64) (*model.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.statuses) - 1; i >= 0; i-- {
		if m.statuses[i].UserID == userID {
			out := m.statuses[i]
			return &out, nil
		}
	}
	return nil, nil
}

func (m *mockSyncStatusStore) GetLastCompleted(_ context.Context, userID int64) (*model.SyncStatus, error) {
	return m.lastInState(userID, model.SyncCompleted), nil
}

func (m *mockSyncStatusStore) GetLastFailed(_ context.Context, userID int64) (*model.SyncStatus, error) {
	return m.lastInState(userID, model.SyncFailed), nil
}

func (m *mockSyncStatusStore) lastInState(userID int64, state model.SyncState) *model.SyncStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *model.SyncStatus
	for i := range m.statuses {
		s := m.statuses[i]
		if s.UserID != userID || s.Status != state {
			continue
		}
		if newest == nil || s.UpdatedAt.After(newest.UpdatedAt) {
			out := s
			newest = &out
		}
	}
	return newest
}

// seed injects a pre-existing status row.
func (m *mockSyncStatusStore) seed(status model.SyncStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status.ID == 0 {
		m.nextID++
		status.ID = m.nextID
	} else if status.ID > m.nextID {
		m.nextID = status.ID
	}
	m.statuses = append(m.statuses, status)
}

func (m *mockSyncStatusStore) byID(id int64) *model.SyncStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.statuses {
		if m.statuses[i].ID == id {
			out := m.statuses[i]
			return &out
		}
	}
	return nil
}

func (m *mockSyncStatusStore) progressHistory(id int64) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.progress[id]...)
}

// mockGitHubClient is a scriptable driven.GitHubClient.
type mockGitHubClient struct {
	mu sync.Mutex

	starred    []model.Repository
	starredErr error

	profile    *model.UserProfile
	profileErr error

	releasesByRepo map[string][]model.Release
	releaseErrs    map[string]error

	rateRemaining int

	starredCalls int
	releaseCalls []string
}

func newMockGitHubClient() *mockGitHubClient {
	return &mockGitHubClient{
		releasesByRepo: make(map[string][]model.Release),
		releaseErrs:    make(map[string]error),
		rateRemaining:  -1,
		profile:        &model.UserProfile{Login: "tester"},
	}
}

func (m *mockGitHubClient) FetchAllStarredRepos(_ context.Context) ([]model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starredCalls++
	if m.starredErr != nil {
		return nil, m.starredErr
	}
	return append([]model.Repository(nil), m.starred...), nil
}

func (m *mockGitHubClient) FetchUserProfile(_ context.Context) (*model.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profileErr != nil {
		return nil, m.profileErr
	}
	return m.profile, nil
}

func (m *mockGitHubClient) FetchReleases(_ context.Context, owner, name string, _ int) ([]model.Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := owner + "/" + name
	m.releaseCalls = append(m.releaseCalls, key)
	if err, ok := m.releaseErrs[key]; ok {
		return nil, err
	}
	return append([]model.Release(nil), m.releasesByRepo[key]...), nil
}

func (m *mockGitHubClient) FetchLatestRelease(_ context.Context, owner, name string) (*model.Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.releasesByRepo[owner+"/"+name] {
		if r.IsStable() {
			out := r
			return &out, nil
		}
	}
	return nil, nil
}

func (m *mockGitHubClient) RateLimitRemaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rateRemaining
}

func (m *mockGitHubClient) setRateRemaining(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateRemaining = n
}

func (m *mockGitHubClient) fetchedRepos() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.releaseCalls...)
}

func factoryFor(client *mockGitHubClient) GitHubClientFactory {
	return func(string) driven.GitHubClient { return client }
}

// Interface checks.
var (
	_ driven.UserStore       = (*mockUserStore)(nil)
	_ driven.RepoStore       = (*mockRepoStore)(nil)
	_ driven.ReleaseStore    = (*mockReleaseStore)(nil)
	_ driven.SyncStatusStore = (*mockSyncStatusStore)(nil)
	_ driven.GitHubClient    = (*mockGitHubClient)(nil)
)
