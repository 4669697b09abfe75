// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"deployplane/internal/apperr"
	"deployplane/internal/logger"
	"deployplane/internal/service"
	"deployplane/pkg/api"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClaimLimiter throttles claim polling per runner id.
type ClaimLimiter interface {
	Allow(key string) bool
}

// Deps are the services the handlers call into.
type Deps struct {
	Jobs       *service.JobService
	Placements *service.PlacementService
	AppRuns    *service.AppRunService
	Purge      *service.PurgeService
	Apps       *service.AppService
	Runners    *service.RunnerRegistry
	Store      Pinger

	// ClaimLimiter is optional. Nil means unlimited.
	ClaimLimiter ClaimLimiter
	Logger       *slog.Logger
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	Deps
}

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handlers{Deps: d}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message, code string, status int) {
	h.respondJSON(w, status, api.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// fail maps a classified error to its HTTP status. Unclassified errors are
// logged and hidden behind a generic 500.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	code := strings.ToLower(string(kind))
	switch kind {
	case apperr.KindInvalidArgument:
		h.httpError(w, err.Error(), code, http.StatusBadRequest)
	case apperr.KindNotFound:
		h.httpError(w, err.Error(), code, http.StatusNotFound)
	case apperr.KindConflict:
		h.httpError(w, err.Error(), code, http.StatusConflict)
	default:
		logger.FromContext(r.Context(), h.Logger).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		h.httpError(w, "Internal server error", code, http.StatusInternalServerError)
	}
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Invalid("Invalid request body")
	}
	return nil
}
