package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tradeya/backend/internal/docstore"
	"github.com/tradeya/backend/internal/rules"
	"github.com/tradeya/backend/internal/services"
	"github.com/tradeya/backend/pkg/logger"
	"github.com/tradeya/backend/pkg/response"
)

// toAppError maps domain errors onto HTTP errors. Unknown errors become a
// 500 whose message does not leak the cause.
func toAppError(err error) *response.AppError {
	var appErr *response.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var partial *services.PartialWriteError
	switch {
	case errors.As(err, &partial):
		return response.NewServerError("request was only partially applied and will be repaired").WithCause(err)
	case errors.Is(err, rules.ErrPermissionDenied):
		return response.NewForbidden("permission denied").WithCause(err)
	case errors.Is(err, docstore.ErrNotFound), errors.Is(err, services.ErrUserNotFound):
		return response.NewNotFound("not found").WithCause(err)
	case errors.Is(err, services.ErrRelationshipExists):
		return response.NewConflict("relationship already exists").WithCause(err)
	case errors.Is(err, docstore.ErrAlreadyExists), errors.Is(err, services.ErrUsernameTaken):
		return response.NewConflict(err.Error()).WithCause(err)
	case errors.Is(err, services.ErrInvalidTransition):
		return response.NewUnprocessable(err.Error()).WithCause(err)
	case errors.Is(err, services.ErrSelfRelationship), errors.Is(err, services.ErrInvalidInput):
		return response.NewBadRequest(err.Error()).WithCause(err)
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrInvalidRefreshToken):
		return response.NewUnauthorized(err.Error()).WithCause(err)
	case errors.Is(err, services.ErrUserDisabled), errors.Is(err, services.ErrRegistrationClosed):
		return response.NewForbidden(err.Error()).WithCause(err)
	}
	return response.NewServerError("internal server error").WithCause(err)
}

// respondError writes err and logs server-side failures with their cause.
func respondError(c *gin.Context, err error) {
	appErr := toAppError(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("[API] request failed")
	}
	response.Error(c, appErr)
}
