package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	ingestdomain "github.com/smallbiznis/emitra/internal/ingest/domain"
	sitedomain "github.com/smallbiznis/emitra/internal/site/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// ErrorHandlingMiddleware converts the last recorded error into the response
// envelope after the handler chain returns.
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
		c.AbortWithStatusJSON(status, Envelope{
			Success: false,
			Error:   &payload,
			Meta:    Meta{Timestamp: time.Now().UTC()},
		})
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
			Code:    err.Error(),
			Message: "validation error",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Code:    "site_not_found",
			Message: "site not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Code:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ingestdomain.ErrKeyContention):
		return http.StatusServiceUnavailable, errorPayload{
			Code:    "idempotency_key_contention",
			Message: "a concurrent request holds this idempotency key, retry with the same key",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Code:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Code:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ingestdomain.ErrMissingIdempotencyKey),
		errors.Is(err, ingestdomain.ErrEmptyBatch),
		errors.Is(err, ingestdomain.ErrBatchTooLarge),
		errors.Is(err, ingestdomain.ErrNegativeValue),
		errors.Is(err, ingestdomain.ErrInvalidTimestamp),
		errors.Is(err, ingestdomain.ErrInvalidUnit),
		errors.Is(err, ingestdomain.ErrInvalidSource),
		errors.Is(err, sitedomain.ErrInvalidID),
		errors.Is(err, sitedomain.ErrInvalidName),
		errors.Is(err, sitedomain.ErrInvalidLocation),
		errors.Is(err, sitedomain.ErrInvalidEmissionLimit),
		errors.Is(err, sitedomain.ErrInvalidCursor):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, sitedomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// classifyErrorForLog feeds the request logger a coarse type plus the
// sentinel code without rendering a response.
func classifyErrorForLog(err error) (string, string) {
	switch {
	case isValidationError(err):
		return "validation_error", err.Error()
	case isNotFoundError(err):
		return "not_found", "site_not_found"
	case errors.Is(err, ingestdomain.ErrKeyContention):
		return "transient_error", "idempotency_key_contention"
	default:
		return "internal_error", "internal_error"
	}
}
