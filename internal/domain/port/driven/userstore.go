package driven

import (
	"context"
	"errors"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/model"
)

// ErrUserNotFound indicates the requested user does not exist.
var ErrUserNotFound = errors.New("user not found")

// UserStore defines the driven port for user persistence. Creation and
// credential updates happen in the auth layer; the core reads users and
// backfills the profile email.
type UserStore interface {
	// GetByID returns the user, or nil, nil when no such user exists.
	GetByID(ctx context.Context, id int64) (*model.User, error)

	// Upsert inserts or updates a user keyed by GitHubID and returns the
	// stored row.
	Upsert(ctx context.Context, user model.User) (*model.User, error)

	// UpdateEmail sets the user's email address.
	UpdateEmail(ctx context.Context, id int64, email string) error

	// ListWithTokens returns every user holding a non-empty access token,
	// the population eligible for scheduled work.
	ListWithTokens(ctx context.Context) ([]model.User, error)
}
