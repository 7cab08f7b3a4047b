package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/smartdigilab/backend/internal/models"
	"github.com/smartdigilab/backend/internal/services"
	"go.uber.org/zap"
)

const maxJSONBytes = 1_048_576

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeServiceError maps service errors onto HTTP statuses. Anything not
// recognised is logged and hidden behind a generic 500.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var fieldErr *services.FieldError

	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrInsufficientStock):
		message := "Validation failed"
		if errors.As(err, &fieldErr) {
			message = fieldErr.Message
		}
		services.SendErrorResponse(w, message, http.StatusUnprocessableEntity, err)
	case errors.Is(err, services.ErrNotFound):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, services.ErrUnauthorized):
		services.SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
	default:
		logger.Error("request failed", zap.Error(err))
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}

func principalFrom(w http.ResponseWriter, r *http.Request) (models.Principal, bool) {
	principal, ok := services.PrincipalFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Authorization required", http.StatusUnauthorized, nil)
	}
	return principal, ok
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		services.SendErrorResponse(w, "Invalid id", http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// decodeJSON reads exactly one JSON object into dst
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}
