package driven

import (
	"context"
	"errors"
	"fmt"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/model"
)

// ErrorKind classifies a remote API failure. It is assigned exactly once, at
// the point the HTTP response is inspected, so downstream code never has to
// parse message strings.
type ErrorKind string

const (
	KindAuthFailed  ErrorKind = "auth_failed"
	KindNotFound    ErrorKind = "not_found"
	KindRateLimited ErrorKind = "rate_limited"
	KindTransient   ErrorKind = "transient"
	KindUnknown     ErrorKind = "unknown"
)

// APIError wraps a remote API failure with its classification and the HTTP
// status that was observed (0 when the request never got a response).
type APIError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("github: %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("github: %s: %v", e.Kind, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification from an error chain.
// Errors that carry no APIError are reported as KindUnknown.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// GitHubClient is the driven port for the remote repository-hosting API.
// One instance is bound to one user's token; rate-limit bookkeeping is
// per-instance and must not be shared across unrelated call graphs.
type GitHubClient interface {
	// FetchAllStarredRepos returns the user's complete starred-repository
	// list, following pagination to the end. An empty list is a valid result.
	FetchAllStarredRepos(ctx context.Context) ([]model.Repository, error)

	// FetchUserProfile returns the authenticated user's normalized profile.
	FetchUserProfile(ctx context.Context) (*model.UserProfile, error)

	// FetchReleases returns the newest perPage releases for a repository,
	// newest first. A repository without releases (remote 404) yields an
	// empty list, not an error.
	FetchReleases(ctx context.Context, owner, name string, perPage int) ([]model.Release, error)

	// FetchLatestRelease returns the most recent stable release, or nil
	// when none exists.
	FetchLatestRelease(ctx context.Context, owner, name string) (*model.Release, error)

	// RateLimitRemaining reports the remaining primary quota from the most
	// recent response, or -1 when no response has been seen yet.
	RateLimitRemaining() int
}
