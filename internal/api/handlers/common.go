package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/baechuer/kimg-panel/internal/domain"
	"github.com/baechuer/kimg-panel/internal/logger"
	"github.com/baechuer/kimg-panel/middleware"
)

func sendError(w http.ResponseWriter, r *http.Request, code string, message string, status int) {
	resp := domain.APIError{}
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.RequestID = middleware.GetRequestID(r.Context())

	render.Status(r, status)
	render.JSON(w, r, resp)
}

func sendJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// handleSessionError maps preview errors onto the API envelope.
func handleSessionError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidHash),
		errors.Is(err, domain.ErrInvalidValue),
		errors.Is(err, domain.ErrConfirmationRequired):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownPanel),
		errors.Is(err, domain.ErrNoImage):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSessionClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		sendError(w, r, "timeout", "session did not answer in time", http.StatusGatewayTimeout)
		return
	case errors.Is(err, context.Canceled):
		// client went away
		return
	}

	code := domain.Code(err)
	if code == "" {
		logger.Ctx(r.Context()).Error().Err(err).Msg("unexpected session error")
		sendError(w, r, "internal_error", "internal error", status)
		return
	}
	sendError(w, r, code, err.Error(), status)
}
