package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/tonicworks/accord/internal/catalog/domain"
	matchingdomain "github.com/tonicworks/accord/internal/matching/domain"
	royaltydomain "github.com/tonicworks/accord/internal/royalty/domain"
	usagedomain "github.com/tonicworks/accord/internal/usage/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrTooManyRequests = errors.New("too_many_requests")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_requests",
			Message: "rate limit exceeded",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, usagedomain.ErrInvalidSource),
		errors.Is(err, usagedomain.ErrInvalidUsageType),
		errors.Is(err, usagedomain.ErrInvalidPlayCount),
		errors.Is(err, usagedomain.ErrMissingUsageDate),
		errors.Is(err, usagedomain.ErrMissingIdentity),
		errors.Is(err, catalogdomain.ErrInvalidCode),
		errors.Is(err, royaltydomain.ErrInvalidPeriodCode):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, usagedomain.ErrEventNotFound),
		errors.Is(err, matchingdomain.ErrEventNotFound),
		errors.Is(err, matchingdomain.ErrWorkNotFound),
		errors.Is(err, catalogdomain.ErrWorkNotFound),
		errors.Is(err, royaltydomain.ErrPeriodNotFound),
		errors.Is(err, royaltydomain.ErrRunNotFound),
		errors.Is(err, royaltydomain.ErrStatementNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, matchingdomain.ErrEventNotClaimable),
		errors.Is(err, matchingdomain.ErrAlreadyMatched),
		errors.Is(err, royaltydomain.ErrPeriodExists),
		errors.Is(err, royaltydomain.ErrPeriodConflict),
		errors.Is(err, royaltydomain.ErrPeriodNotReady),
		errors.Is(err, royaltydomain.ErrInvalidTransition):
		return true
	default:
		return false
	}
}
