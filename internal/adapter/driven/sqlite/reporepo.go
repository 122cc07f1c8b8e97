package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/model"
	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RepoStore = (*RepoRepo)(nil)

// RepoRepo is the SQLite implementation of the RepoStore port interface.
type RepoRepo struct {
	db *DB
}

// NewRepoRepo creates a new RepoRepo backed by the given DB.
func NewRepoRepo(db *DB) *RepoRepo {
	return &RepoRepo{db: db}
}

const repoColumns = `id, user_id, github_id, name, owner, full_name, description, url,
	language, topics, custom_tags, fork, forks_count, stargazers_count, watchers_count,
	default_branch, archived, visibility, starred_at, pushed_at, is_followed,
	latest_version, currently_used_version, update_available, has_releases,
	releases_last_fetched, created_at, updated_at`

// staleFirstOrder sorts never-fetched repositories first, then oldest fetch
// first. Timestamps are fixed-format UTC strings, so string comparison is
// chronological.
const staleFirstOrder = `ORDER BY releases_last_fetched IS NOT NULL, releases_last_fetched ASC, id ASC`

// GetByID retrieves a repository by internal id. Returns nil, nil if no such row exists.
func (r *RepoRepo) GetByID(ctx context.Context, id int64) (*model.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repos WHERE id = ?`

	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %d: %w", id, err)
	}

	return repo, nil
}

// UpsertBatch inserts or updates the given repositories in one transaction,
// matched on (user_id, github_id). Star-payload fields are replaced; custom
// tags, follow status, and version-tracking fields of existing rows are
// preserved (they are not part of the star payload).
func (r *RepoRepo) UpsertBatch(ctx context.Context, userID int64, repos []model.Repository) error {
	if len(repos) == 0 {
		return nil
	}

	const query = `
		INSERT INTO repos (user_id, github_id, name, owner, full_name, description, url,
			language, topics, fork, forks_count, stargazers_count, watchers_count,
			default_branch, archived, visibility, starred_at, pushed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, github_id) DO UPDATE SET
			name = excluded.name,
			owner = excluded.owner,
			full_name = excluded.full_name,
			description = excluded.description,
			url = excluded.url,
			language = excluded.language,
			topics = excluded.topics,
			fork = excluded.fork,
			forks_count = excluded.forks_count,
			stargazers_count = excluded.stargazers_count,
			watchers_count = excluded.watchers_count,
			default_branch = excluded.default_branch,
			archived = excluded.archived,
			visibility = excluded.visibility,
			starred_at = excluded.starred_at,
			pushed_at = excluded.pushed_at,
			updated_at = excluded.updated_at`

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := fmtTime(time.Now())
	for _, repo := range repos {
		topics, err := marshalTags(repo.Topics)
		if err != nil {
			return err
		}

		_, err = stmt.ExecContext(ctx,
			userID, repo.GitHubID, repo.Name, repo.Owner, repo.FullName,
			repo.Description, repo.URL, repo.Language, topics, repo.Fork,
			repo.ForksCount, repo.StargazersCount, repo.WatchersCount,
			repo.DefaultBranch, repo.Archived, repo.Visibility,
			fmtNullTime(repo.StarredAt), fmtNullTime(repo.PushedAt), now, now)
		if err != nil {
			return fmt.Errorf("upsert repository %s: %w", repo.FullName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert batch: %w", err)
	}

	return nil
}

// DeleteNotIn removes every repository of the user whose github_id is not in
// keep. An empty keep set removes everything the user has.
func (r *RepoRepo) DeleteNotIn(ctx context.Context, userID int64, keep []string) (int64, error) {
	var result sql.Result
	var err error

	if len(keep) == 0 {
		result, err = r.db.Writer.ExecContext(ctx, `DELETE FROM repos WHERE user_id = ?`, userID)
	} else {
		args := make([]any, 0, len(keep)+1)
		args = append(args, userID)
		for _, id := range keep {
			args = append(args, id)
		}
		query := `DELETE FROM repos WHERE user_id = ? AND github_id NOT IN (?` +
			strings.Repeat(", ?", len(keep)-1) + `)`
		result, err = r.db.Writer.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return 0, fmt.Errorf("delete unstarred repositories: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}

	return deleted, nil
}

// ListByIDs returns the user's repositories among the given internal ids,
// least-recently-fetched first.
func (r *RepoRepo) ListByIDs(ctx context.Context, userID int64, ids []int64) ([]model.Repository, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}

	query := `SELECT ` + repoColumns + ` FROM repos WHERE user_id = ? AND id IN (?` +
		strings.Repeat(", ?", len(ids)-1) + `) ` + staleFirstOrder

	return r.queryRepos(ctx, query, args...)
}

// ListNeedingReleaseFetch returns up to limit repositories whose releases
// were never fetched or were last fetched before cutoff.
func (r *RepoRepo) ListNeedingReleaseFetch(ctx context.Context, userID int64, cutoff time.Time, limit int) ([]model.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repos
		WHERE user_id = ? AND (releases_last_fetched IS NULL OR releases_last_fetched < ?)
		` + staleFirstOrder + ` LIMIT ?`

	return r.queryRepos(ctx, query, userID, fmtTime(cutoff), limit)
}

// ListFollowedByTag returns the user's followed repositories carrying the
// given custom tag.
func (r *RepoRepo) ListFollowedByTag(ctx context.Context, userID int64, tag string) ([]model.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repos
		WHERE user_id = ? AND is_followed = 1
		AND EXISTS (SELECT 1 FROM json_each(repos.custom_tags) WHERE json_each.value = ?)
		ORDER BY full_name`

	return r.queryRepos(ctx, query, userID, tag)
}

// UpdateVersionTracking persists the version-tracking fields of the given repository.
func (r *RepoRepo) UpdateVersionTracking(ctx context.Context, repo *model.Repository) error {
	const query = `UPDATE repos SET
			latest_version = ?,
			currently_used_version = ?,
			update_available = ?,
			has_releases = ?,
			releases_last_fetched = ?,
			updated_at = ?
		WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query,
		repo.LatestVersion, repo.CurrentlyUsedVersion, repo.UpdateAvailable,
		repo.HasReleases, fmtNullTime(repo.ReleasesLastFetched), fmtTime(time.Now()), repo.ID)
	if err != nil {
		return fmt.Errorf("update version tracking for repository %d: %w", repo.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update version tracking for repository %d: %w", repo.ID, driven.ErrRepoNotFound)
	}

	return nil
}

// TouchReleasesFetched stamps releases_last_fetched only.
func (r *RepoRepo) TouchReleasesFetched(ctx context.Context, repoID int64, at time.Time) error {
	const query = `UPDATE repos SET releases_last_fetched = ?, updated_at = ? WHERE id = ?`

	_, err := r.db.Writer.ExecContext(ctx, query, fmtTime(at), fmtTime(time.Now()), repoID)
	if err != nil {
		return fmt.Errorf("touch releases fetched for repository %d: %w", repoID, err)
	}

	return nil
}

func (r *RepoRepo) queryRepos(ctx context.Context, query string, args ...any) ([]model.Repository, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, *repo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}

	return repos, nil
}

func scanRepository(s scanner) (*model.Repository, error) {
	var repo model.Repository
	var topics, customTags, createdAt, updatedAt string
	var starredAt, pushedAt, releasesLastFetched sql.NullString
	var latestVersion, currentlyUsedVersion sql.NullString

	err := s.Scan(&repo.ID, &repo.UserID, &repo.GitHubID, &repo.Name, &repo.Owner,
		&repo.FullName, &repo.Description, &repo.URL, &repo.Language, &topics,
		&customTags, &repo.Fork, &repo.ForksCount, &repo.StargazersCount,
		&repo.WatchersCount, &repo.DefaultBranch, &repo.Archived, &repo.Visibility,
		&starredAt, &pushedAt, &repo.IsFollowed, &latestVersion,
		&currentlyUsedVersion, &repo.UpdateAvailable, &repo.HasReleases,
		&releasesLastFetched, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if repo.Topics, err = unmarshalTags(topics); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}
	if repo.CustomTags, err = unmarshalTags(customTags); err != nil {
		return nil, fmt.Errorf("parse custom_tags: %w", err)
	}

	if repo.StarredAt, err = parseNullTime(starredAt); err != nil {
		return nil, fmt.Errorf("parse starred_at: %w", err)
	}
	if repo.PushedAt, err = parseNullTime(pushedAt); err != nil {
		return nil, fmt.Errorf("parse pushed_at: %w", err)
	}
	if repo.ReleasesLastFetched, err = parseNullTime(releasesLastFetched); err != nil {
		return nil, fmt.Errorf("parse releases_last_fetched: %w", err)
	}

	repo.LatestVersion = nullStringPtr(latestVersion)
	repo.CurrentlyUsedVersion = nullStringPtr(currentlyUsedVersion)

	if repo.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if repo.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &repo, nil
}
