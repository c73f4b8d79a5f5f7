// Copyright 2024-2026 Aiku AI

package chatapi

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when the provider does not answer within the
// configured http_timeout window.
var ErrTimeout = errors.New("completion request timed out")

// BackendError is a non-success response from the provider, carrying
// the provider's own error text.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend error: %s", e.Message)
}

// TransportError is a network-level failure before any provider
// response was received.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
