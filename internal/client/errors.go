package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnavailable covers transport failures and timeouts: the request may
	// or may not have reached the server.
	ErrUnavailable  = errors.New("api unavailable")
	ErrUnauthorized = errors.New("not authenticated")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrServer       = errors.New("server error")
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api HTTP %d", e.Status)
	}
	return fmt.Sprintf("api HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusBadRequest:
		return ErrValidation
	case e.Status == http.StatusConflict:
		return ErrConflict
	default:
		return ErrServer
	}
}

// Retryable reports whether a failed mutation should stay queued. Missing
// targets and invalid input never succeed on retry; authentication failures
// are handled by the caller before the queue is touched.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotFound), errors.Is(err, ErrValidation):
		return false
	default:
		return true
	}
}
