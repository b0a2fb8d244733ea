// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github-geo-collector/internal/model"
)

// Reader is the read side of the store the API serves.
type Reader interface {
	CountCommits(ctx context.Context, repo string) (int64, error)
	ListCommits(ctx context.Context, repo string, limit, offset int) ([]model.Commit, error)
	TopCommitters(ctx context.Context, repo string, limit int) ([]model.AuthorStats, error)
	ListGeo(ctx context.Context) ([]model.GeoRecord, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	db     Reader
	logger logrus.FieldLogger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db Reader, logger logrus.FieldLogger) http.Handler {
	h := &Handler{
		db:     db,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/repos/{owner}/{name}/commits", h.getCommits)
		r.Get("/repos/{owner}/{name}/stats/top-committers", h.getTopCommitters)
		r.Get("/locations", h.getLocations)
	})

	return r
}

func requestLogger(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(started).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("Request served")
		})
	}
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// repoFromPath resolves {owner}/{name} and answers 404 when nothing is stored for it.
func (h *Handler) repoFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	repo := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")
	n, err := h.db.CountCommits(r.Context(), repo)
	if err != nil {
		h.logger.WithError(err).WithField("repo", repo).Error("Failed to count commits")
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return "", false
	}
	if n == 0 {
		respondWithError(w, http.StatusNotFound, "Repository not found")
		return "", false
	}
	return repo, true
}

// getCommits handles the request to retrieve commits for a repository.
// GET /v1/repos/{owner}/{name}/commits?limit=N&offset=M
func (h *Handler) getCommits(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", 50, 1, 500)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 500.")
		return
	}
	offset, ok := intParam(r, "offset", 0, 0, 1<<31-1)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid 'offset' parameter. Must be a non-negative integer.")
		return
	}

	repo, ok := h.repoFromPath(w, r)
	if !ok {
		return
	}

	commits, err := h.db.ListCommits(r.Context(), repo, limit, offset)
	if err != nil {
		h.logger.WithError(err).WithField("repo", repo).Error("Failed to get commits")
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if commits == nil {
		commits = []model.Commit{}
	}

	respondWithJSON(w, http.StatusOK, commits)
}

// getTopCommitters handles the request for top commit authors.
// GET /v1/repos/{owner}/{name}/stats/top-committers?limit=N
func (h *Handler) getTopCommitters(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", 10, 1, 100)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 100.")
		return
	}

	repo, ok := h.repoFromPath(w, r)
	if !ok {
		return
	}

	authors, err := h.db.TopCommitters(r.Context(), repo, limit)
	if err != nil {
		h.logger.WithError(err).WithField("repo", repo).Error("Failed to get top commit authors")
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if authors == nil {
		authors = []model.AuthorStats{}
	}

	respondWithJSON(w, http.StatusOK, authors)
}

// getLocations lists the normalized location cache.
// GET /v1/locations
func (h *Handler) getLocations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.db.ListGeo(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list locations")
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if recs == nil {
		recs = []model.GeoRecord{}
	}
	respondWithJSON(w, http.StatusOK, recs)
}

func intParam(r *http.Request, key string, def, lo, hi int) (int, bool) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, false
	}
	return n, true
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
