package adminapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"nybot/internal/storage"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidQuery       = errors.New("invalid_query")
	ErrInvalidBody        = errors.New("invalid_body")
	ErrInvalidEvent       = errors.New("invalid_event")
	ErrTooManyRequests    = errors.New("too_many_requests")
	ErrDBNotReady         = errors.New("db_not_ready")
)

// statusOf maps handler errors to an HTTP status and the public detail string.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, ErrUnauthorized.Error()
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized, ErrInvalidCredentials.Error()
	case errors.Is(err, ErrInvalidQuery):
		return http.StatusUnprocessableEntity, ErrInvalidQuery.Error()
	case errors.Is(err, ErrInvalidBody):
		return http.StatusUnprocessableEntity, ErrInvalidBody.Error()
	case errors.Is(err, ErrInvalidEvent):
		return http.StatusBadRequest, ErrInvalidEvent.Error()
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, ErrTooManyRequests.Error()
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrDBNotReady), errors.Is(err, storage.ErrDisabled):
		return http.StatusServiceUnavailable, ErrDBNotReady.Error()
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// abortWith writes {"detail": ...} and stops the handler chain.
func abortWith(c *gin.Context, err error) {
	status, detail := statusOf(err)
	if status >= 500 {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}
