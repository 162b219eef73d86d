// Package platform holds the errors shared by the completion backends.
package platform

import (
	"errors"
	"fmt"
)

// ErrMalformedEnvelope is returned when the endpoint replies successfully but
// the reply carries no assistant text.
var ErrMalformedEnvelope = errors.New("malformed completion envelope")

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	Backend    string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s returned status %d", e.Backend, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Backend, e.StatusCode, e.Message)
}
