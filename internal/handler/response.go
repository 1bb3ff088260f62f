package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/Dan9191/cashflow-service/internal/middleware"
	"github.com/Dan9191/cashflow-service/internal/service"
	"github.com/goccy/go-json"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		middleware.Logger(context.Background()).WithError(err).Error("Failed to encode response")
	}
}

// writeError maps service errors to HTTP statuses
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *service.ValidationError
		notFound   *service.NotFoundError
		inactive   *service.InactiveDefinitionError
		mismatch   *service.ConfirmationMismatchError
		concurrent *service.ConcurrentAdvanceError
	)

	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
		resp.Field = validation.Field
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &inactive), errors.As(err, &concurrent):
		status = http.StatusConflict
	case errors.As(err, &mismatch):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	log := middleware.Logger(r.Context()).WithError(err)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed")
		resp.Error = http.StatusText(status)
	} else {
		log.Debug("Request rejected")
	}
	writeJSON(w, status, resp)
}
