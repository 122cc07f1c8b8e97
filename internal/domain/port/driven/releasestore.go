package driven

import (
	"context"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/model"
)

// ReleaseStore defines the driven port for release persistence.
type ReleaseStore interface {
	// Upsert inserts or updates a release matched on (repo id, remote
	// release id) and returns the stored row. Tag renames and body edits
	// update in place.
	Upsert(ctx context.Context, release model.Release) (*model.Release, error)

	// ListByRepo returns all stored releases of a repository, newest
	// published first.
	ListByRepo(ctx context.Context, repoID int64) ([]model.Release, error)

	// GetByTag returns the release with the given tag name, or nil, nil
	// when no such release is stored.
	GetByTag(ctx context.Context, repoID int64, tag string) (*model.Release, error)
}
