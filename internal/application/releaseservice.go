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

// ErrVersionNotFound is returned when a version pin names a tag that is not
// among the repository's stored releases.
var ErrVersionNotFound = errors.New("version not found among stored releases")

const (
	defaultReleaseCacheTTL = 24 * time.Hour
	defaultReleasePageSize = 100
	defaultPerRepoDelay    = 500 * time.Millisecond
	defaultBulkLimit       = 20
	maxBulkLimit           = 50
	defaultQuotaBuffer     = 100
)

// ReleaseOptions tunes the release engine. Zero values select the defaults.
type ReleaseOptions struct {
	// CacheTTL is how long fetched release data is served without refetching.
	CacheTTL time.Duration

	// PerRepoDelay spaces consecutive remote calls in a bulk fetch.
	// Negative disables the pause entirely (tests).
	PerRepoDelay time.Duration

	// QuotaBuffer stops a bulk fetch when the shared client reports fewer
	// remaining calls than this.
	QuotaBuffer int

	// ReleasePageSize is how many releases are fetched per repository.
	ReleasePageSize int
}

func (o ReleaseOptions) withDefaults() ReleaseOptions {
	if o.CacheTTL <= 0 {
		o.CacheTTL = defaultReleaseCacheTTL
	}
	if o.PerRepoDelay < 0 {
		o.PerRepoDelay = 0
	} else if o.PerRepoDelay == 0 {
		o.PerRepoDelay = defaultPerRepoDelay
	}
	if o.QuotaBuffer <= 0 {
		o.QuotaBuffer = defaultQuotaBuffer
	}
	if o.ReleasePageSize <= 0 {
		o.ReleasePageSize = defaultReleasePageSize
	}
	return o
}

// RepoFetchError records one repository's failure inside a bulk fetch.
type RepoFetchError struct {
	RepoID   int64
	FullName string
	Err      error
}

// BulkFetchResult summarizes a bulk release fetch. Processed counts repos a
// fetch was attempted for; SkippedRateLimit counts eligible repos abandoned
// when the quota ran out.
type BulkFetchResult struct {
	Processed        int
	Successful       int
	Failed           int
	SkippedRateLimit int
	Errors           []RepoFetchError
}

// BulkFetchOptions refines the candidate set and client of one bulk fetch.
type BulkFetchOptions struct {
	// MinFetchAge keeps repositories whose release data is younger than this
	// out of the batch. Zero means any already-fetched repository is skipped
	// only by the default cache TTL ordering, not filtered.
	MinFetchAge time.Duration

	// Client, when non-nil, is reused for the whole batch instead of building
	// one from the user's token. The post-sync fetch passes the sync's client
	// so the quota bookkeeping carries over.
	Client driven.GitHubClient
}

// ReleaseService owns release data and the per-repository version tracking
// fields derived from it.
type ReleaseService struct {
	users     driven.UserStore
	repos     driven.RepoStore
	releases  driven.ReleaseStore
	newClient GitHubClientFactory
	opts      ReleaseOptions
}

// NewReleaseService creates a new ReleaseService with all required dependencies.
func NewReleaseService(
	users driven.UserStore,
	repos driven.RepoStore,
	releases driven.ReleaseStore,
	newClient GitHubClientFactory,
	opts ReleaseOptions,
) *ReleaseService {
	return &ReleaseService{
		users:     users,
		repos:     repos,
		releases:  releases,
		newClient: newClient,
		opts:      opts.withDefaults(),
	}
}

// FetchAndStoreReleases fetches a repository's releases, stores them, and
// recomputes the version-tracking fields. The owner check folds "not yours"
// into "not found" so the API does not leak other users' repository ids.
func (s *ReleaseService) FetchAndStoreReleases(ctx context.Context, repoID, userID int64, client driven.GitHubClient) (*model.Repository, error) {
	repo, err := s.ownedRepo(ctx, repoID, userID)
	if err != nil {
		return nil, err
	}

	return s.fetchAndStore(ctx, repo, client)
}

// fetchAndStore is the ownership-free core used by both the single-repo
// entry point and the bulk fetch (whose candidates are already scoped).
func (s *ReleaseService) fetchAndStore(ctx context.Context, repo *model.Repository, client driven.GitHubClient) (*model.Repository, error) {
	now := time.Now()

	fetched, err := client.FetchReleases(ctx, repo.Owner, repo.Name, s.opts.ReleasePageSize)
	if err != nil {
		// Stamp even on failure so one broken repository cannot pin itself
		// to the front of the stale-first queue forever.
		if stampErr := s.repos.TouchReleasesFetched(ctx, repo.ID, now); stampErr != nil {
			slog.Error("release fetch stamp failed", "repo_id", repo.ID, "error", stampErr)
		}
		return nil, fmt.Errorf("fetch releases for %s: %w", repo.FullName, err)
	}

	// "First fetch" means no releases were known before this call, which
	// covers repositories whose earlier fetches all came back empty. A
	// cleared pin can only exist once releases were seen, so keying on
	// HasReleases never overwrites an explicit "not using any version".
	firstFetch := !repo.HasReleases

	if len(fetched) == 0 {
		repo.HasReleases = false
		repo.LatestVersion = nil
		repo.UpdateAvailable = repo.ComputeUpdateAvailable()
		repo.ReleasesLastFetched = &now
		if err := s.repos.UpdateVersionTracking(ctx, repo); err != nil {
			return nil, err
		}
		return repo, nil
	}

	for _, release := range fetched {
		release.RepoID = repo.ID
		if _, err := s.releases.Upsert(ctx, release); err != nil {
			return nil, fmt.Errorf("store release %s for %s: %w", release.TagName, repo.FullName, err)
		}
	}

	repo.HasReleases = true
	repo.LatestVersion = latestStableTag(fetched)

	// Before the first releases appear a user has made no version choice,
	// so the latest stable release becomes the working default. After that
	// a nil pin is explicit and is never overwritten.
	if firstFetch && repo.CurrentlyUsedVersion == nil {
		repo.CurrentlyUsedVersion = repo.LatestVersion
	}

	repo.UpdateAvailable = repo.ComputeUpdateAvailable()
	repo.ReleasesLastFetched = &now

	if err := s.repos.UpdateVersionTracking(ctx, repo); err != nil {
		return nil, err
	}

	slog.Debug("releases fetched",
		"repo", repo.FullName,
		"count", len(fetched),
		"latest", strOrEmpty(repo.LatestVersion),
	)

	return repo, nil
}

// GetRepositoryReleases returns a repository's stored releases, refreshing
// them first when forced, stale, or never fetched. A failed refresh falls
// back to cached data unless there is nothing cached at all.
func (s *ReleaseService) GetRepositoryReleases(ctx context.Context, repoID, userID int64, forceRefresh bool) ([]model.Release, *model.Repository, error) {
	repo, err := s.ownedRepo(ctx, repoID, userID)
	if err != nil {
		return nil, nil, err
	}

	stale := repo.ReleasesLastFetched == nil ||
		time.Since(*repo.ReleasesLastFetched) > s.opts.CacheTTL

	if forceRefresh || stale {
		client, err := s.clientForUser(ctx, userID)
		if err != nil {
			return nil, nil, err
		}

		refreshed, err := s.fetchAndStore(ctx, repo, client)
		if err != nil {
			if repo.ReleasesLastFetched == nil {
				return nil, nil, err
			}
			slog.Warn("release refresh failed, serving cached data",
				"repo", repo.FullName, "error", err)
		} else {
			repo = refreshed
		}
	}

	list, err := s.releases.ListByRepo(ctx, repo.ID)
	if err != nil {
		return nil, nil, err
	}

	return list, repo, nil
}

// UpdateCurrentlyUsedVersion pins, changes, or clears the version a user
// tracks for a repository. A non-nil version must name a stored release tag.
// A nil version clears the pin and nothing else: the repository then reports
// no update available regardless of newer releases.
func (s *ReleaseService) UpdateCurrentlyUsedVersion(ctx context.Context, repoID, userID int64, version *string) (*model.Repository, error) {
	repo, err := s.ownedRepo(ctx, repoID, userID)
	if err != nil {
		return nil, err
	}

	// Pinning against a repository whose releases were never fetched would
	// reject every tag, so fetch once opportunistically.
	if repo.ReleasesLastFetched == nil {
		client, err := s.clientForUser(ctx, userID)
		if err == nil {
			if refreshed, fetchErr := s.fetchAndStore(ctx, repo, client); fetchErr != nil {
				slog.Warn("opportunistic release fetch failed", "repo", repo.FullName, "error", fetchErr)
			} else {
				repo = refreshed
			}
		}
	}

	if version != nil {
		release, err := s.releases.GetByTag(ctx, repo.ID, *version)
		if err != nil {
			return nil, err
		}
		if release == nil {
			return nil, fmt.Errorf("pin %q on %s: %w", *version, repo.FullName, ErrVersionNotFound)
		}
	}

	repo.CurrentlyUsedVersion = version
	repo.UpdateAvailable = repo.ComputeUpdateAvailable()

	if err := s.repos.UpdateVersionTracking(ctx, repo); err != nil {
		return nil, err
	}

	return repo, nil
}

// GetEffectiveVersion resolves the version a user is effectively on: the
// explicit pin once release data exists (including an explicit "none"), the
// best-known latest before any fetch.
func (s *ReleaseService) GetEffectiveVersion(repo *model.Repository) *string {
	if repo.ReleasesLastFetched != nil {
		return repo.CurrentlyUsedVersion
	}
	return repo.LatestVersion
}

// BulkFetchReleases refreshes release data for up to limit of the user's
// repositories with one shared client. Explicit repoIDs select the candidate
// set directly; otherwise the stalest repositories go first. Per-repository
// failures are collected, never raised; the batch stops early when the shared
// quota drops below the buffer or a rate-limit error comes back.
func (s *ReleaseService) BulkFetchReleases(ctx context.Context, userID int64, limit int, repoIDs []int64, opts BulkFetchOptions) (*BulkFetchResult, error) {
	if limit <= 0 {
		limit = defaultBulkLimit
	}
	if limit > maxBulkLimit {
		limit = maxBulkLimit
	}

	candidates, err := s.bulkCandidates(ctx, userID, limit, repoIDs, opts.MinFetchAge)
	if err != nil {
		return nil, err
	}

	result := &BulkFetchResult{}
	if len(candidates) == 0 {
		return result, nil
	}

	client := opts.Client
	if client == nil {
		client, err = s.clientForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	for i, repo := range candidates {
		if remaining := client.RateLimitRemaining(); remaining >= 0 && remaining < s.opts.QuotaBuffer {
			result.SkippedRateLimit += len(candidates) - i
			slog.Warn("bulk release fetch stopped, quota low",
				"user_id", userID, "remaining", remaining, "skipped", result.SkippedRateLimit)
			break
		}

		result.Processed++
		_, err := s.fetchAndStore(ctx, &repo, client)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, RepoFetchError{
				RepoID:   repo.ID,
				FullName: repo.FullName,
				Err:      err,
			})

			if driven.KindOf(err) == driven.KindRateLimited {
				result.SkippedRateLimit += len(candidates) - i - 1
				slog.Warn("bulk release fetch aborted, rate limited",
					"user_id", userID, "repo", repo.FullName)
				break
			}
		} else {
			result.Successful++
		}

		if i < len(candidates)-1 {
			// A cancelled context is a shutdown, not quota exhaustion; the
			// remainder is simply left unprocessed.
			if err := sleepCtx(ctx, s.opts.PerRepoDelay); err != nil {
				break
			}
		}
	}

	return result, nil
}

func (s *ReleaseService) bulkCandidates(ctx context.Context, userID int64, limit int, repoIDs []int64, minFetchAge time.Duration) ([]model.Repository, error) {
	if len(repoIDs) == 0 {
		cutoff := time.Now().Add(-s.opts.CacheTTL)
		if minFetchAge > 0 {
			cutoff = time.Now().Add(-minFetchAge)
		}
		return s.repos.ListNeedingReleaseFetch(ctx, userID, cutoff, limit)
	}

	repos, err := s.repos.ListByIDs(ctx, userID, repoIDs)
	if err != nil {
		return nil, err
	}

	if minFetchAge > 0 {
		cutoff := time.Now().Add(-minFetchAge)
		fresh := repos[:0]
		for _, repo := range repos {
			if repo.ReleasesLastFetched == nil || repo.ReleasesLastFetched.Before(cutoff) {
				fresh = append(fresh, repo)
			}
		}
		repos = fresh
	}

	if len(repos) > limit {
		repos = repos[:limit]
	}

	return repos, nil
}

func (s *ReleaseService) ownedRepo(ctx context.Context, repoID, userID int64) (*model.Repository, error) {
	repo, err := s.repos.GetByID(ctx, repoID)
	if err != nil {
		return nil, err
	}
	if repo == nil || repo.UserID != userID {
		return nil, fmt.Errorf("repository %d: %w", repoID, driven.ErrRepoNotFound)
	}
	return repo, nil
}

func (s *ReleaseService) clientForUser(ctx context.Context, userID int64) (driven.GitHubClient, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", userID, driven.ErrUserNotFound)
	}
	if !user.HasToken() {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNoAccessToken)
	}
	return s.newClient(user.AccessToken), nil
}

// latestStableTag picks the newest non-prerelease, non-draft tag from a
// newest-first release list.
func latestStableTag(releases []model.Release) *string {
	for _, release := range releases {
		if release.IsStable() {
			tag := release.TagName
			return &tag
		}
	}
	return nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
