package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job id is unknown to the status tracker
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when a status record is created twice
	ErrJobExists = errors.New("job already exists")

	// ErrInvalidTransition is returned when a status update would move a job backwards
	// or out of a terminal state
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInvalidInput is the sentinel matched by every InputError
	ErrInvalidInput = errors.New("invalid input")

	// ErrExhaustedRetries is returned when a transient failure outlived the retry budget
	ErrExhaustedRetries = errors.New("max retries exceeded")

	// ErrEmptyQueue is returned by non-blocking broker reads
	ErrEmptyQueue = errors.New("queue is empty")
)

// InputError rejects submitted content synchronously; it never reaches the queue
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "invalid input: " + e.Reason
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewInputError creates a new input error
func NewInputError(format string, args ...any) error {
	return &InputError{Reason: fmt.Sprintf(format, args...)}
}

// TransientError wraps pipeline failures that should trigger a retry
type TransientError struct {
	Stage string
	Err   error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Err.Error())
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError creates a new transient error for a pipeline stage
func NewTransientError(stage string, err error) error {
	return &TransientError{Stage: stage, Err: err}
}

// InfrastructureError marks an unavailable cache, status store or broker.
// Application logic never retries it; it is propagated to the caller.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// NewInfrastructureError creates a new infrastructure error for an operation
func NewInfrastructureError(op string, err error) error {
	return &InfrastructureError{Op: op, Err: err}
}

// IsTransient reports whether err should feed the retry counter
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsInfrastructure reports whether err comes from an unavailable backing service
func IsInfrastructure(err error) bool {
	var ie *InfrastructureError
	return errors.As(err, &ie)
}
