package github

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v68/github"
)

// ErrMissingCredentials is returned by Push when no token or owner is
// available from the request or the configuration.
var ErrMissingCredentials = errors.New("github: token and owner are required")

// APIError is a non-2xx response from the REST API.
type APIError struct {
	StatusCode int
	Message    string
	// Errors holds field-level failures from 422 responses.
	Errors []ValidationError
}

// ValidationError describes one rejected field.
type ValidationError struct {
	Resource string
	Code     string
	Field    string
	Message  string
}

func (err *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "github: HTTP %d: %s", err.StatusCode, err.Message)
	for _, v := range err.Errors {
		detail := v.Message
		if detail == "" {
			detail = v.Code
		}
		fmt.Fprintf(&b, "; %s.%s: %s", v.Resource, v.Field, detail)
	}
	return b.String()
}

// apiError converts go-github's error response into an APIError and
// wraps it with what was being attempted.
func apiError(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	var resp *gh.ErrorResponse
	if !errors.As(err, &resp) || resp.Response == nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	out := &APIError{StatusCode: resp.Response.StatusCode, Message: resp.Message}
	for _, e := range resp.Errors {
		out.Errors = append(out.Errors, ValidationError{
			Resource: e.Resource,
			Code:     e.Code,
			Field:    e.Field,
			Message:  e.Message,
		})
	}
	return fmt.Errorf("%s: %w", what, out)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

// IsValidationFailed reports whether err is a 422 response.
func IsValidationFailed(err error) bool { return hasStatus(err, http.StatusUnprocessableEntity) }

// IsConflict reports whether err is a 409 response.
func IsConflict(err error) bool { return hasStatus(err, http.StatusConflict) }

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
