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
var _ driven.ReleaseStore = (*ReleaseRepo)(nil)

// ReleaseRepo is the SQLite implementation of the ReleaseStore port interface.
type ReleaseRepo struct {
	db *DB
}

// NewReleaseRepo creates a new ReleaseRepo backed by the given DB.
func NewReleaseRepo(db *DB) *ReleaseRepo {
	return &ReleaseRepo{db: db}
}

const releaseColumns = `id, repo_id, github_release_id, tag_name, name, body,
	published_at, prerelease, draft, created_at, updated_at`

// Upsert inserts or updates a release matched on (repo_id, github_release_id).
// Keying on the remote release id means a retagged release updates in place
// instead of creating a phantom duplicate.
func (r *ReleaseRepo) Upsert(ctx context.Context, release model.Release) (*model.Release, error) {
	const query = `
		INSERT INTO releases (repo_id, github_release_id, tag_name, name, body,
			published_at, prerelease, draft, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (repo_id, github_release_id) DO UPDATE SET
			tag_name = excluded.tag_name,
			name = excluded.name,
			body = excluded.body,
			published_at = excluded.published_at,
			prerelease = excluded.prerelease,
			draft = excluded.draft,
			updated_at = excluded.updated_at`

	now := fmtTime(time.Now())
	_, err := r.db.Writer.ExecContext(ctx, query,
		release.RepoID, release.GitHubReleaseID, release.TagName, release.Name,
		release.Body, fmtNullTime(release.PublishedAt), release.Prerelease,
		release.Draft, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert release %s: %w", release.GitHubReleaseID, err)
	}

	stored, err := scanRelease(r.db.Writer.QueryRowContext(ctx,
		`SELECT `+releaseColumns+` FROM releases WHERE repo_id = ? AND github_release_id = ?`,
		release.RepoID, release.GitHubReleaseID))
	if err != nil {
		return nil, fmt.Errorf("reload release %s: %w", release.GitHubReleaseID, err)
	}

	return stored, nil
}

// ListByRepo returns all stored releases of a repository, newest published
// first; rows without a publish date sort last.
func (r *ReleaseRepo) ListByRepo(ctx context.Context, repoID int64) ([]model.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM releases
		WHERE repo_id = ?
		ORDER BY published_at IS NULL, published_at DESC, id DESC`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoID)
	if err != nil {
		return nil, fmt.Errorf("list releases for repository %d: %w", repoID, err)
	}
	defer rows.Close()

	var releases []model.Release
	for rows.Next() {
		release, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		releases = append(releases, *release)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate releases: %w", err)
	}

	return releases, nil
}

// GetByTag returns the release with the given tag name. Returns nil, nil if
// no such release is stored.
func (r *ReleaseRepo) GetByTag(ctx context.Context, repoID int64, tag string) (*model.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM releases WHERE repo_id = ? AND tag_name = ?`

	release, err := scanRelease(r.db.Reader.QueryRowContext(ctx, query, repoID, tag))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get release %q for repository %d: %w", tag, repoID, err)
	}

	return release, nil
}

func scanRelease(s scanner) (*model.Release, error) {
	var release model.Release
	var publishedAt sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&release.ID, &release.RepoID, &release.GitHubReleaseID,
		&release.TagName, &release.Name, &release.Body, &publishedAt,
		&release.Prerelease, &release.Draft, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if release.PublishedAt, err = parseNullTime(publishedAt); err != nil {
		return nil, fmt.Errorf("parse published_at: %w", err)
	}
	if release.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if release.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &release, nil
}
