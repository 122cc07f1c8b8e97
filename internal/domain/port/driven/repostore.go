package driven

import (
	"context"
	"errors"
	"time"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/model"
)

// ErrRepoNotFound indicates the repository does not exist or belongs to a
// different user. Ownership failures are deliberately indistinguishable from
// absence.
var ErrRepoNotFound = errors.New("repository not found")

// RepoStore defines the driven port for repository persistence.
type RepoStore interface {
	// GetByID returns the repository, or nil, nil when no such row exists.
	GetByID(ctx context.Context, id int64) (*model.Repository, error)

	// UpsertBatch inserts or updates the given repositories for the user in
	// a single transaction, matched on (user id, remote github id). Version
	// tracking fields, custom tags, and follow status of existing rows are
	// left untouched.
	UpsertBatch(ctx context.Context, userID int64, repos []model.Repository) error

	// DeleteNotIn removes every repository of the user whose remote github
	// id is not in keep, returning the number of rows removed. An empty keep
	// set removes everything.
	DeleteNotIn(ctx context.Context, userID int64, keep []string) (int64, error)

	// ListByIDs returns the user's repositories among the given internal
	// ids, ordered least-recently-fetched first (never-fetched rows first).
	ListByIDs(ctx context.Context, userID int64, ids []int64) ([]model.Repository, error)

	// ListNeedingReleaseFetch returns up to limit repositories of the user
	// whose releases were never fetched or were last fetched before cutoff,
	// ordered least-recently-fetched first (never-fetched rows first).
	ListNeedingReleaseFetch(ctx context.Context, userID int64, cutoff time.Time, limit int) ([]model.Repository, error)

	// ListFollowedByTag returns the user's followed repositories carrying
	// the given custom tag.
	ListFollowedByTag(ctx context.Context, userID int64, tag string) ([]model.Repository, error)

	// UpdateVersionTracking persists the version-tracking fields
	// (latest/currently-used version, update-available, has-releases,
	// releases-last-fetched) of the given repository.
	UpdateVersionTracking(ctx context.Context, repo *model.Repository) error

	// TouchReleasesFetched stamps releases_last_fetched only. Used on fetch
	// failure to prevent immediate retry storms.
	TouchReleasesFetched(ctx context.Context, repoID int64, at time.Time) error
}
