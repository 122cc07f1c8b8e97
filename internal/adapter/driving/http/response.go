package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/application"
	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// SyncStatusResponse is the JSON representation of one sync attempt.
type SyncStatusResponse struct {
	ID        int64   `json:"id"`
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"`
	Error     string  `json:"error,omitempty"`
	ErrorKind string  `json:"error_kind,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// StartSyncResponse is the JSON body of the sync trigger endpoint.
type StartSyncResponse struct {
	Started bool               `json:"started"`
	Status  SyncStatusResponse `json:"status"`
}

// SyncSummaryResponse is the JSON body of the sync status endpoint.
type SyncSummaryResponse struct {
	Latest        *SyncStatusResponse `json:"latest"`
	LastCompleted *SyncStatusResponse `json:"last_completed"`
}

// RepoResponse is the JSON representation of a starred repository's
// version-tracking state.
type RepoResponse struct {
	ID                   int64    `json:"id"`
	FullName             string   `json:"full_name"`
	Owner                string   `json:"owner"`
	Name                 string   `json:"name"`
	CustomTags           []string `json:"custom_tags"`
	IsFollowed           bool     `json:"is_followed"`
	LatestVersion        *string  `json:"latest_version"`
	CurrentlyUsedVersion *string  `json:"currently_used_version"`
	EffectiveVersion     *string  `json:"effective_version"`
	UpdateAvailable      bool     `json:"update_available"`
	HasReleases          bool     `json:"has_releases"`
	ReleasesLastFetched  *string  `json:"releases_last_fetched"`
}

// ReleaseResponse is the JSON representation of a release.
type ReleaseResponse struct {
	ID          int64   `json:"id"`
	TagName     string  `json:"tag_name"`
	Name        string  `json:"name"`
	Body        string  `json:"body"`
	PublishedAt *string `json:"published_at"`
	Prerelease  bool    `json:"prerelease"`
	Draft       bool    `json:"draft"`
}

// RepoReleasesResponse is the JSON body of the repository releases endpoint.
type RepoReleasesResponse struct {
	Repository RepoResponse      `json:"repository"`
	Releases   []ReleaseResponse `json:"releases"`
}

// UpdateVersionRequest is the JSON body for the version pin endpoint.
// A null (or absent) version clears the pin.
type UpdateVersionRequest struct {
	Version *string `json:"version"`
}

// BulkFetchRequest is the JSON body for the bulk release fetch endpoint.
type BulkFetchRequest struct {
	Limit   int     `json:"limit"`
	RepoIDs []int64 `json:"repo_ids"`
}

// BulkFetchResponse is the JSON representation of a bulk fetch outcome.
type BulkFetchResponse struct {
	Processed        int                  `json:"processed"`
	Successful       int                  `json:"successful"`
	Failed           int                  `json:"failed"`
	SkippedRateLimit int                  `json:"skipped_rate_limit"`
	Errors           []BulkFetchErrorItem `json:"errors"`
}

// BulkFetchErrorItem is one repository's failure inside a bulk fetch.
type BulkFetchErrorItem struct {
	RepoID   int64  `json:"repo_id"`
	FullName string `json:"full_name"`
	Error    string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func toSyncStatusResponse(s model.SyncStatus) SyncStatusResponse {
	return SyncStatusResponse{
		ID:        s.ID,
		Status:    string(s.Status),
		Progress:  s.Progress,
		Error:     s.Error,
		ErrorKind: s.ErrorKind,
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toSyncStatusResponsePtr(s *model.SyncStatus) *SyncStatusResponse {
	if s == nil {
		return nil
	}
	out := toSyncStatusResponse(*s)
	return &out
}

func toRepoResponse(repo model.Repository, effective *string) RepoResponse {
	tags := repo.CustomTags
	if tags == nil {
		tags = []string{}
	}

	var fetched *string
	if repo.ReleasesLastFetched != nil {
		f := repo.ReleasesLastFetched.UTC().Format(time.RFC3339)
		fetched = &f
	}

	return RepoResponse{
		ID:                   repo.ID,
		FullName:             repo.FullName,
		Owner:                repo.Owner,
		Name:                 repo.Name,
		CustomTags:           tags,
		IsFollowed:           repo.IsFollowed,
		LatestVersion:        repo.LatestVersion,
		CurrentlyUsedVersion: repo.CurrentlyUsedVersion,
		EffectiveVersion:     effective,
		UpdateAvailable:      repo.UpdateAvailable,
		HasReleases:          repo.HasReleases,
		ReleasesLastFetched:  fetched,
	}
}

func toReleaseResponse(r model.Release) ReleaseResponse {
	var published *string
	if r.PublishedAt != nil {
		p := r.PublishedAt.UTC().Format(time.RFC3339)
		published = &p
	}

	return ReleaseResponse{
		ID:          r.ID,
		TagName:     r.TagName,
		Name:        r.Name,
		Body:        r.Body,
		PublishedAt: published,
		Prerelease:  r.Prerelease,
		Draft:       r.Draft,
	}
}

func toBulkFetchResponse(result *application.BulkFetchResult) BulkFetchResponse {
	items := make([]BulkFetchErrorItem, 0, len(result.Errors))
	for _, e := range result.Errors {
		items = append(items, BulkFetchErrorItem{
			RepoID:   e.RepoID,
			FullName: e.FullName,
			Error:    e.Err.Error(),
		})
	}

	return BulkFetchResponse{
		Processed:        result.Processed,
		Successful:       result.Successful,
		Failed:           result.Failed,
		SkippedRateLimit: result.SkippedRateLimit,
		Errors:           items,
	}
}
