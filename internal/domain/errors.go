package domain

import "errors"

// Error taxonomy. Only engine and scheduling failures change job state.
var (
	// ErrMalformedRequest is reported to the sender only
	ErrMalformedRequest = errors.New("malformed request")
	// ErrDuplicateInFlight is reported to the sender as an info event
	ErrDuplicateInFlight = errors.New("already downloading")
	// ErrEngineFailure wraps any error surfaced by the download engine
	ErrEngineFailure = errors.New("download failed")
	// ErrDeliveryFailure means an observer could not take a message and is dropped
	ErrDeliveryFailure = errors.New("delivery failed")
	// ErrSchedulingFailure means no worker could be started for a job
	ErrSchedulingFailure = errors.New("failed to start worker")
)

// EngineError carries the engine's own failure message and matches
// ErrEngineFailure with errors.Is
type EngineError struct {
	Message string
}

func (e *EngineError) Error() string { return e.Message }

func (e *EngineError) Unwrap() error { return ErrEngineFailure }
