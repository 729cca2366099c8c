package reader

import (
	"errors"
	"fmt"
)

// API error kinds. The polling loop converts all of these into error
// snapshots at the boundary; only auth failures escalate at startup.
const (
	KindAuthFailed   = "auth_failed"
	KindNotFound     = "not_found"
	KindNetworkError = "network_error"
	KindServerError  = "server_error"
	KindMalformed    = "malformed_response"
)

// APIError is a classified failure from the metering API.
type APIError struct {
	Kind       string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is an authentication or authorization
// failure. Used at startup: without valid credentials no poll can succeed.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindAuthFailed
}

func classifyStatus(status int) string {
	switch {
	case status == 401 || status == 403:
		return KindAuthFailed
	case status == 404:
		return KindNotFound
	default:
		return KindServerError
	}
}
