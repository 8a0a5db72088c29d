package orchestrator

import (
	"errors"
	"fmt"
)

// ErrTurnInProgress is returned by Send while another turn is active. The
// active turn is not affected.
var ErrTurnInProgress = errors.New("a turn is already in progress")

// ErrCanceled is returned when a turn is abandoned through Cancel.
var ErrCanceled = errors.New("turn canceled")

// TransportError reports a request that never produced a usable response:
// the connection failed, or the body closed before any byte arrived.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UpstreamError reports a non-success status from the inference endpoint.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
}
