package statute

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCategory is returned for category ids outside the closed set.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrLoginFailed is returned by login providers that could not mint a token.
	ErrLoginFailed = errors.New("login failed")
	// ErrInvalidRecord is returned when a stored credential record cannot be decoded.
	ErrInvalidRecord = errors.New("invalid credential record")
	// ErrNoToken marks a command that needed a token when neither the pool
	// nor the primary slot had one.
	ErrNoToken = errors.New("no token available")
	// ErrPageMismatch is returned when the API answers a page other than the
	// one requested, which it does silently for a rate-limited token.
	ErrPageMismatch = errors.New("api returned a different page")
)

// StatusError reports a non-success HTTP status from the API.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// APIError reports an application-level error carried in a 200 response.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}
