package rest

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// APIError is a non-2xx response from the backend. Callers can use
// errors.As to extract it:
//
//	var apiErr *rest.APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict { ... }
type APIError struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
	// Message is the backend's "error" field, or the status text when the
	// body carried none.
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rest: %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an *APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == status
	}
	return false
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool { return IsStatus(err, http.StatusNotFound) }
