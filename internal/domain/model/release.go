package model

import "time"

// Release is one GitHub release of a tracked repository. GitHubReleaseID is
// the remote's stable release id rendered as a string; tag names are mutable
// (a retag must update the existing row, never create a duplicate).
type Release struct {
	ID              int64
	RepoID          int64
	GitHubReleaseID string
	TagName         string
	Name            string
	Body            string
	PublishedAt     *time.Time
	Prerelease      bool
	Draft           bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsStable reports whether the release counts toward "latest version":
// neither a prerelease nor a draft.
func (r *Release) IsStable() bool {
	return !r.Prerelease && !r.Draft
}
