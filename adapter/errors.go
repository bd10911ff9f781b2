package webull

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the auth manager, dispatcher and streaming client.
// Wrapped errors keep these reachable through errors.Is.
var (
	// ErrUnauthorized means there is no usable token or the server rejected it.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimitExceeded is returned after the server answered 429.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidRequest marks a violated precondition. No network call was made.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMFARequired means login succeeded partially and a verification code is needed.
	ErrMFARequired = errors.New("multi-factor authentication required")

	// ErrNotConnected is returned by streaming operations that need a live socket.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrInvalidRequest)
)

// APIError is a non-2xx response or a failed response envelope.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s: %s", e.Code, e.Message)
}

// NetworkError wraps a transport failure (DNS, TLS, reset, timeout).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SerializationError wraps a JSON encode or decode failure.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// IsAPIError reports whether err carries an APIError and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
