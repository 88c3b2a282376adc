package apperror

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// statusOf maps a taxonomy code to its HTTP status.
func statusOf(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidationFailed:
		return http.StatusBadRequest
	case CodeDuplicateKey, CodeInvalidTransition:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeFolioSpaceExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts an application error into an echo HTTPError. Internal
// errors keep a generic message so storage details are never leaked.
func ToHTTP(err error) *echo.HTTPError {
	if he, ok := err.(*echo.HTTPError); ok {
		return he
	}
	code := CodeOf(err)
	status := statusOf(code)
	msg := err.Error()
	if code == CodeInternal {
		msg = "internal server error"
	}
	return echo.NewHTTPError(status, msg)
}
