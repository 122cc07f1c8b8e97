package model

import "time"

// Repository is one starred GitHub repository as seen by one user.
// GitHubID is the remote's stable numeric id rendered as a string; the
// owner/name pair is mutable on GitHub and must never be used as a key.
type Repository struct {
	ID          int64
	UserID      int64
	GitHubID    string
	Name        string
	Owner       string
	FullName    string
	Description string
	URL         string
	Language    string
	Topics      []string
	CustomTags  []string

	Fork            bool
	ForksCount      int
	StargazersCount int
	WatchersCount   int
	DefaultBranch   string
	Archived        bool
	Visibility      string

	StarredAt *time.Time
	PushedAt  *time.Time

	// IsFollowed distinguishes "still starred remotely" from "previously
	// synced but unstarred". The sync cleanup step removes rows absent from
	// the latest fetch entirely, so a false value only survives between a
	// manual unfollow and the next full sync.
	IsFollowed bool

	// Version tracking. LatestVersion always reflects the newest stable
	// (non-prerelease, non-draft) release tag. CurrentlyUsedVersion is
	// user-controlled; nil means "not using any tracked version", which is
	// distinct from "use latest".
	LatestVersion        *string
	CurrentlyUsedVersion *string
	UpdateAvailable      bool
	HasReleases          bool
	ReleasesLastFetched  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// VersionState names the three version-selection states that the nullable
// tracking columns encode, so callers do not re-derive the semantics ad hoc.
type VersionState int

const (
	// VersionNeverFetched: release data has never been fetched; the latest
	// version, if any, is only a best available guess.
	VersionNeverFetched VersionState = iota
	// VersionNotUsing: the user explicitly tracks no version.
	VersionNotUsing
	// VersionPinned: the user tracks a specific release tag.
	VersionPinned
)

// VersionState derives the version-selection state from the tracking fields.
func (r *Repository) VersionState() VersionState {
	switch {
	case r.ReleasesLastFetched == nil:
		return VersionNeverFetched
	case r.CurrentlyUsedVersion == nil:
		return VersionNotUsing
	default:
		return VersionPinned
	}
}

// ComputeUpdateAvailable evaluates the update-available rule: a pinned
// version that differs from a known latest stable version. A nil latest
// version never signals an update, even with a pin set.
func (r *Repository) ComputeUpdateAvailable() bool {
	return r.CurrentlyUsedVersion != nil &&
		r.LatestVersion != nil &&
		*r.CurrentlyUsedVersion != *r.LatestVersion
}
