package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means the upstream did not answer within the request timeout
	ErrTimeout = errors.New("upstream request timed out")
	// ErrEmptyResponse means the upstream answered without a usable choice
	ErrEmptyResponse = errors.New("upstream returned no content")
)

// UpstreamError is a non-2xx answer, an undecodable body or a transport failure.
// StatusCode is 0 when no HTTP response was received.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream request failed: %v", e.Err)
	}
	return fmt.Sprintf("upstream returned status %d: %v", e.StatusCode, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
