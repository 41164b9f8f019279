package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ServiceError is returned by providers for transport, status and decode failures.
type ServiceError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Timeout reports whether the call failed on a deadline.
func (e *ServiceError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// Connection reports transport-level failures (no HTTP status received).
func (e *ServiceError) Connection() bool {
	return e.StatusCode == 0
}

func NewServiceError(provider string, status int, err error) *ServiceError {
	return &ServiceError{Provider: provider, StatusCode: status, Err: err}
}
