// Package github implements the GitHubClient port using the go-github library.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"
	"golang.org/x/oauth2"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/model"
	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.GitHubClient = (*Client)(nil)

const (
	perPageMax    = 100
	retryAttempts = 3

	// Primary-quota pacing. When fewer than rateLimitBuffer calls remain we
	// wait for the reset instead of burning the tail of the quota.
	rateLimitBuffer = 100

	defaultRetryDelay       = 2 * time.Second
	defaultPageDelay        = 500 * time.Millisecond
	defaultMaxRateLimitWait = 60 * time.Second
)

// Client implements the driven.GitHubClient port using the go-github library.
// One Client is bound to one user's token; the rate-limit bookkeeping below
// tracks that token's primary quota only.
type Client struct {
	gh *gh.Client

	retryDelay       time.Duration
	pageDelay        time.Duration
	maxRateLimitWait time.Duration

	mu            sync.Mutex
	rateRemaining int // -1 until the first response is seen
	rateReset     time.Time
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. oauth2 static token source
//  4. go-github (GitHub REST API client)
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	authCtx := context.WithValue(context.Background(), oauth2.HTTPClient, rateLimitClient)
	httpClient := oauth2.NewClient(authCtx, src)

	return &Client{
		gh:               gh.NewClient(httpClient),
		retryDelay:       defaultRetryDelay,
		pageDelay:        defaultPageDelay,
		maxRateLimitWait: defaultMaxRateLimitWait,
		rateRemaining:    -1,
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base
// URL, with all pacing delays zeroed. This constructor is intended for
// testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{
		gh:            client,
		rateRemaining: -1,
	}, nil
}

// FetchAllStarredRepos retrieves the authenticated user's complete starred
// repository list, newest star first. It follows pagination to the end with a
// short pause between pages and maps go-github types to domain model types.
func (c *Client) FetchAllStarredRepos(ctx context.Context) ([]model.Repository, error) {
	opts := &gh.ActivityListStarredOptions{
		Sort:      "created",
		Direction: "desc",
		ListOptions: gh.ListOptions{
			PerPage: perPageMax,
		},
	}

	allRepos := []model.Repository{}

	for {
		var starred []*gh.StarredRepository
		var nextPage int
		err := c.withRetry(ctx, "starred", func() (*gh.Response, error) {
			var resp *gh.Response
			var err error
			starred, resp, err = c.gh.Activity.ListStarred(ctx, "", opts)
			if resp != nil {
				nextPage = resp.NextPage
			}
			logRateLimit(resp, "starred", opts.Page, len(starred))
			return resp, err
		})
		if err != nil {
			return nil, fmt.Errorf("listing starred repositories (page %d): %w", opts.Page, err)
		}

		for _, sr := range starred {
			allRepos = append(allRepos, mapStarredRepo(sr))
		}

		if nextPage == 0 {
			break
		}
		opts.Page = nextPage

		if err := sleepCtx(ctx, c.pageDelay); err != nil {
			return nil, err
		}
	}

	return allRepos, nil
}

// FetchUserProfile returns the authenticated user's normalized profile.
func (c *Client) FetchUserProfile(ctx context.Context) (*model.UserProfile, error) {
	var user *gh.User
	err := c.withRetry(ctx, "profile", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		user, resp, err = c.gh.Users.Get(ctx, "")
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching user profile: %w", err)
	}

	return &model.UserProfile{
		Login:     user.GetLogin(),
		Email:     user.GetEmail(),
		AvatarURL: user.GetAvatarURL(),
	}, nil
}

// FetchReleases retrieves the newest perPage releases for a repository.
// A repository without releases (404) yields an empty list, not an error.
func (c *Client) FetchReleases(ctx context.Context, owner, name string, perPage int) ([]model.Release, error) {
	if perPage <= 0 || perPage > perPageMax {
		perPage = perPageMax
	}

	var releases []*gh.RepositoryRelease
	err := c.withRetry(ctx, "releases", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		releases, resp, err = c.gh.Repositories.ListReleases(ctx, owner, name,
			&gh.ListOptions{PerPage: perPage})
		logRateLimit(resp, owner+"/"+name+"/releases", 0, len(releases))
		return resp, err
	})
	if driven.KindOf(err) == driven.KindNotFound {
		return []model.Release{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing releases for %s/%s: %w", owner, name, err)
	}

	mapped := make([]model.Release, 0, len(releases))
	for _, r := range releases {
		mapped = append(mapped, mapRelease(r))
	}

	return mapped, nil
}

// FetchLatestRelease returns the repository's latest stable release, or
// nil, nil when none exists.
func (c *Client) FetchLatestRelease(ctx context.Context, owner, name string) (*model.Release, error) {
	var release *gh.RepositoryRelease
	err := c.withRetry(ctx, "latest-release", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		release, resp, err = c.gh.Repositories.GetLatestRelease(ctx, owner, name)
		return resp, err
	})
	if driven.KindOf(err) == driven.KindNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching latest release for %s/%s: %w", owner, name, err)
	}

	mapped := mapRelease(release)
	return &mapped, nil
}

// RateLimitRemaining reports the remaining primary quota from the most
// recent response, or -1 when no response has been seen yet.
func (c *Client) RateLimitRemaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateRemaining
}

// withRetry runs one API call with primary-quota pacing before it, quota
// bookkeeping after it, and a bounded retry loop around it. Only transient
// failures are retried; auth, not-found, and rate-limit outcomes surface
// immediately as classified APIErrors.
func (c *Client) withRetry(ctx context.Context, op string, call func() (*gh.Response, error)) error {
	var lastErr error

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err := c.pauseForRateLimit(ctx); err != nil {
			return err
		}

		resp, err := call()
		c.recordRateLimit(resp)
		if err == nil {
			return nil
		}

		apiErr := classify(err, resp)
		if !retryable(apiErr.Kind) || attempt == retryAttempts {
			return apiErr
		}
		lastErr = apiErr

		delay := time.Duration(attempt) * c.retryDelay
		slog.Warn("github api call failed, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}

// pauseForRateLimit sleeps until the primary quota resets when the last
// response reported fewer than rateLimitBuffer remaining calls. The wait is
// capped so a clock-skewed reset header cannot stall a sync for an hour.
func (c *Client) pauseForRateLimit(ctx context.Context) error {
	c.mu.Lock()
	remaining := c.rateRemaining
	reset := c.rateReset
	c.mu.Unlock()

	if remaining < 0 || remaining >= rateLimitBuffer {
		return nil
	}

	wait := time.Until(reset) + time.Second
	if wait > c.maxRateLimitWait {
		wait = c.maxRateLimitWait
	}
	if wait <= 0 {
		return nil
	}

	slog.Info("github rate limit low, pausing",
		"remaining", remaining,
		"wait", wait.Round(time.Second),
	)
	if err := sleepCtx(ctx, wait); err != nil {
		return err
	}

	// Assume the quota refreshed; the next response re-establishes the truth.
	c.mu.Lock()
	c.rateRemaining = -1
	c.mu.Unlock()

	return nil
}

func (c *Client) recordRateLimit(resp *gh.Response) {
	if resp == nil {
		return
	}

	c.mu.Lock()
	c.rateRemaining = resp.Rate.Remaining
	c.rateReset = resp.Rate.Reset.Time
	c.mu.Unlock()
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

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)
}

// mapStarredRepo converts a go-github StarredRepository to a domain model
// Repository. It uses GetXxx() helper methods exclusively to avoid nil
// pointer panics. The remote numeric id becomes the string GitHubID key.
func mapStarredRepo(sr *gh.StarredRepository) model.Repository {
	r := sr.GetRepository()

	var starredAt *time.Time
	if sr.StarredAt != nil {
		t := sr.GetStarredAt().Time
		starredAt = &t
	}
	var pushedAt *time.Time
	if r.PushedAt != nil {
		t := r.GetPushedAt().Time
		pushedAt = &t
	}

	topics := r.Topics
	if topics == nil {
		topics = []string{}
	}

	return model.Repository{
		GitHubID:        strconv.FormatInt(r.GetID(), 10),
		Name:            r.GetName(),
		Owner:           r.GetOwner().GetLogin(),
		FullName:        r.GetFullName(),
		Description:     r.GetDescription(),
		URL:             r.GetHTMLURL(),
		Language:        r.GetLanguage(),
		Topics:          topics,
		Fork:            r.GetFork(),
		ForksCount:      r.GetForksCount(),
		StargazersCount: r.GetStargazersCount(),
		WatchersCount:   r.GetWatchersCount(),
		DefaultBranch:   r.GetDefaultBranch(),
		Archived:        r.GetArchived(),
		Visibility:      r.GetVisibility(),
		StarredAt:       starredAt,
		PushedAt:        pushedAt,
		IsFollowed:      true,
	}
}

// mapRelease converts a go-github RepositoryRelease to a domain model Release.
func mapRelease(r *gh.RepositoryRelease) model.Release {
	var publishedAt *time.Time
	if r.PublishedAt != nil {
		t := r.GetPublishedAt().Time
		publishedAt = &t
	}

	return model.Release{
		GitHubReleaseID: strconv.FormatInt(r.GetID(), 10),
		TagName:         r.GetTagName(),
		Name:            r.GetName(),
		Body:            r.GetBody(),
		PublishedAt:     publishedAt,
		Prerelease:      r.GetPrerelease(),
		Draft:           r.GetDraft(),
	}
}
