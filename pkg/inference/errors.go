package inference

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoEndpoint = errors.New("inference: endpoint required")
	ErrNoModel    = errors.New("inference: model required")

	// ErrNoChoices is returned when the endpoint answers without a choice.
	ErrNoChoices = errors.New("inference: no choices returned")
)

// StatusError is a non-200 answer from the endpoint.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("inference: status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("inference: status %d: %s", e.Status, e.Message)
}

// Temporary reports whether a retry may succeed (429 and 5xx).
func (e *StatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}
