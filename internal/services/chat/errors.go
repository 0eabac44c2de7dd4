package chat

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every *ValidationError
var ErrValidation = errors.New("invalid chat message")

// ValidationError rejects a turn before any side effect
type ValidationError struct {
	Reason string
	// Max is the length limit when the message was too long, 0 otherwise
	Max int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrValidation, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Outcome classifies how a turn ended
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeNotConfigured Outcome = "not_configured"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeUpstreamError Outcome = "upstream_error"
)
