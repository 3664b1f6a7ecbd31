package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized matches any *Error carrying HTTP 401.
	ErrUnauthorized = errors.New("apiclient: unauthorized")

	// ErrForbidden matches any *Error carrying HTTP 403.
	ErrForbidden = errors.New("apiclient: forbidden")

	// ErrNotFound matches any *Error carrying HTTP 404.
	ErrNotFound = errors.New("apiclient: not found")

	// ErrRenewalFailed wraps the failure of a session renewal call.
	ErrRenewalFailed = errors.New("apiclient: session renewal failed")
)

// Error is a non-2xx response from the backend.
type Error struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("apiclient: backend returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("apiclient: backend returned %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// newError builds an *Error, pulling a human readable message out of the
// common backend error shapes ({"detail": ...}, {"message": ...},
// {"error": ...}).
func newError(status int, body []byte) *Error {
	e := &Error{StatusCode: status, Body: body}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, k := range []string{"detail", "message", "error"} {
			if s, ok := payload[k].(string); ok && s != "" {
				e.Message = s
				return e
			}
		}
	}

	if s := strings.TrimSpace(string(body)); s != "" && len(s) <= 200 && !strings.HasPrefix(s, "{") {
		e.Message = s
	}
	return e
}

// Message returns a message suitable for showing to the user.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	switch {
	case errors.Is(err, ErrRenewalFailed), errors.Is(err, ErrUnauthorized):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, ErrForbidden):
		return "You do not have permission to do that."
	case errors.Is(err, ErrNotFound):
		return "Not found."
	}
	return "The server could not be reached. Please try again."
}
