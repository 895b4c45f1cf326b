package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
	"github.com/zhouzirui/agent-salon/backend/pkg/utils"
)

// statusFor maps a failure kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrCapacityExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		message = "internal error"
	}
	utils.RespondErrorCode(w, status, session.Kind(err), message)
}
