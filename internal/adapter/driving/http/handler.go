// Package httphandler exposes the sync and release-tracking services over a
// small JSON API. Every endpoint except the health check acts on behalf of
// the user identified by the X-User-ID header.
package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/application"
	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/port/driven"
)

// Handler holds the application services the HTTP API is built on.
type Handler struct {
	sync     *application.SyncService
	releases *application.ReleaseService
	logger   *slog.Logger
}

// NewHandler creates a Handler backed by the given services.
func NewHandler(sync *application.SyncService, releases *application.ReleaseService, logger *slog.Logger) *Handler {
	return &Handler{
		sync:     sync,
		releases: releases,
		logger:   logger,
	}
}

// NewServeMux builds the route table and wraps it in the standard middleware
// chain (recovery innermost, logging outermost).
func NewServeMux(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("POST /api/v1/sync", h.StartSync)
	mux.HandleFunc("GET /api/v1/sync/status", h.SyncStatus)
	mux.HandleFunc("GET /api/v1/repos/{id}/releases", h.ListReleases)
	mux.HandleFunc("PUT /api/v1/repos/{id}/version", h.UpdateVersion)
	mux.HandleFunc("POST /api/v1/releases/fetch", h.BulkFetch)

	return loggingMiddleware(h.logger, recoveryMiddleware(h.logger, mux))
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// StartSync triggers a background star sync for the acting user. If a sync is
// already running the existing attempt is returned instead of starting a new
// one.
func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actingUser(w, r)
	if !ok {
		return
	}

	res, err := h.sync.SyncUserStars(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if res.Started {
		status = http.StatusAccepted
	}
	writeJSON(w, status, StartSyncResponse{
		Started: res.Started,
		Status:  toSyncStatusResponse(res.Status),
	})
}

// SyncStatus returns the acting user's latest sync attempt alongside the last
// completed one.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actingUser(w, r)
	if !ok {
		return
	}

	summary, err := h.sync.GetSyncStatus(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SyncSummaryResponse{
		Latest:        toSyncStatusResponsePtr(summary.Latest),
		LastCompleted: toSyncStatusResponsePtr(summary.LastCompleted),
	})
}

// ListReleases returns the stored releases for one repository, refreshing from
// the API first when the cache is stale or ?refresh=1 is set.
func (h *Handler) ListReleases(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actingUser(w, r)
	if !ok {
		return
	}
	repoID, ok := pathID(w, r)
	if !ok {
		return
	}

	refresh := r.URL.Query().Get("refresh")
	force := refresh == "1" || refresh == "true"

	releases, repo, err := h.releases.GetRepositoryReleases(r.Context(), repoID, userID, force)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]ReleaseResponse, 0, len(releases))
	for _, rel := range releases {
		items = append(items, toReleaseResponse(rel))
	}

	writeJSON(w, http.StatusOK, RepoReleasesResponse{
		Repository: toRepoResponse(*repo, h.releases.GetEffectiveVersion(repo)),
		Releases:   items,
	})
}

// UpdateVersion pins or clears the version the acting user runs for one
// repository. A null version clears the pin.
func (h *Handler) UpdateVersion(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actingUser(w, r)
	if !ok {
		return
	}
	repoID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req UpdateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	repo, err := h.releases.UpdateCurrentlyUsedVersion(r.Context(), repoID, userID, req.Version)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRepoResponse(*repo, h.releases.GetEffectiveVersion(repo)))
}

// BulkFetch refreshes releases for a batch of the acting user's repositories,
// either an explicit id list or the stalest ones.
func (h *Handler) BulkFetch(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actingUser(w, r)
	if !ok {
		return
	}

	var req BulkFetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must not be negative")
		return
	}

	result, err := h.releases.BulkFetchReleases(r.Context(), userID, req.Limit, req.RepoIDs, application.BulkFetchOptions{})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBulkFetchResponse(result))
}

// actingUser resolves the user the request acts for from the X-User-ID
// header. On failure it writes the error response and returns false.
func (h *Handler) actingUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return 0, false
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnauthorized, "invalid X-User-ID header")
		return 0, false
	}
	return id, true
}

// pathID parses the {id} path segment. On failure it writes the error
// response and returns false.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid repository id")
		return 0, false
	}
	return id, true
}

// writeServiceError maps application errors onto HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, driven.ErrUserNotFound), errors.Is(err, driven.ErrRepoNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, application.ErrVersionNotFound):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, application.ErrNoAccessToken):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
