package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"
)

type AppError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
	// RetryAfter is set for admission rejections and surfaced as a
	// Retry-After header.
	RetryAfter time.Duration `json:"-"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest          = &AppError{Code: http.StatusBadRequest, Message: "bad request"}
	ErrUnauthorized        = &AppError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	ErrForbidden           = &AppError{Code: http.StatusForbidden, Message: "forbidden"}
	ErrNotFound            = &AppError{Code: http.StatusNotFound, Message: "not found"}
	ErrInternalServer      = &AppError{Code: http.StatusInternalServerError, Message: "internal server error"}
	ErrInvalidToken        = &AppError{Code: http.StatusUnauthorized, Message: "invalid or expired credential"}
	ErrUpstreamUnavailable = &AppError{Code: http.StatusServiceUnavailable, Message: "embedding provider unavailable, retry later"}
)

func NewBadRequestError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func NewNotFoundError(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

func NewValidationError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

// NewRateLimitedError carries the retry-after hint from the violated window.
func NewRateLimitedError(retryAfter time.Duration) *AppError {
	return &AppError{
		Code:       http.StatusTooManyRequests,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.RetryAfter > 0 {
			secs := int(appErr.RetryAfter.Round(time.Second).Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		JSONErrorMessage(w, appErr.Code, appErr.Message)
		return
	}
	JSONErrorMessage(w, http.StatusInternalServerError, "internal server error")
}
