package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned when the worker pool cannot accept another job.
	ErrQueueFull = errors.New("job queue is full")
	// ErrPoolClosed is returned when submitting to a stopped pool.
	ErrPoolClosed = errors.New("job pool is closed")
	// ErrStatusUnknown means a poll timed out before it could read state.
	ErrStatusUnknown = errors.New("job status unknown")
	// ErrResultExists is returned on a second attempt to write a job's
	// terminal record.
	ErrResultExists = errors.New("job result already written")
	// ErrResultNotFound means no terminal record exists yet.
	ErrResultNotFound = errors.New("job result not found")
)

// ValidationError rejects a submission before a job is created.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StageError ties a job failure to the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
