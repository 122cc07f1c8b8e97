package application

import (
	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/port/driven"
)

// GitHubClientFactory builds an API client bound to one user's access token.
// Services create clients through this factory instead of constructing
// adapters directly, which keeps the application layer off the concrete
// transport stack and lets tests substitute fakes per user.
//
// A client embeds per-token rate-limit bookkeeping, so one instance must not
// be shared across users, but SHOULD be shared across a batch of calls for
// the same user (the bulk release fetch relies on that for its quota budget).
type GitHubClientFactory func(token string) driven.GitHubClient
