package upload

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies why a job failed.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	KindServer     ErrorKind = "server"
	KindProtocol   ErrorKind = "protocol"
)

// JobError is a classified failure with a message fit for the user.
type JobError struct {
	Kind    ErrorKind
	Message string
	Details string
	Err     error
}

// Sentinels for errors.Is; they match any JobError of the same kind.
var (
	ErrValidation = &JobError{Kind: KindValidation}
	ErrTimeout    = &JobError{Kind: KindTimeout}
	ErrConnection = &JobError{Kind: KindConnection}
	ErrServer     = &JobError{Kind: KindServer}
	ErrProtocol   = &JobError{Kind: KindProtocol}
)

// ErrJobAlreadyRunning is returned when starting a second active job.
var ErrJobAlreadyRunning = errors.New("job already running")

func (e *JobError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Is matches on kind so callers can test errors.Is(err, upload.ErrTimeout).
func (e *JobError) Is(target error) bool {
	t, ok := target.(*JobError)
	return ok && t.Kind == e.Kind
}

// NewValidationError reports that no file was selected.
func NewValidationError() *JobError {
	return &JobError{
		Kind:    KindValidation,
		Message: "Please select a CSV file first.",
	}
}

// NewUnreadableFileError reports that the selected file could not be read
// before anything was sent.
func NewUnreadableFileError(cause error) *JobError {
	err := &JobError{
		Kind:    KindValidation,
		Message: "The selected file could not be read. Please select it again.",
		Err:     cause,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewTimeoutError reports that the deadline cancelled the call.
func NewTimeoutError(deadline time.Duration) *JobError {
	return &JobError{
		Kind:    KindTimeout,
		Message: fmt.Sprintf("The analysis took longer than %s and was cancelled.", deadline),
	}
}

// NewConnectionError reports that the call never reached the server.
func NewConnectionError(cause error) *JobError {
	err := &JobError{
		Kind:    KindConnection,
		Message: "Could not reach the analysis server. Is it running?",
		Err:     cause,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServerError carries the diagnostic text the server answered with.
func NewServerError(statusCode int, diagnostic string) *JobError {
	return &JobError{
		Kind:    KindServer,
		Message: fmt.Sprintf("The analysis server rejected the file: %s", diagnostic),
		Details: fmt.Sprintf("HTTP %d", statusCode),
	}
}

// NewProtocolError reports a success response whose payload is unusable.
func NewProtocolError(reason string, cause error) *JobError {
	err := &JobError{
		Kind:    KindProtocol,
		Message: "The analysis server returned an unexpected response.",
		Details: reason,
		Err:     cause,
	}
	if cause != nil {
		err.Details = reason + ": " + cause.Error()
	}
	return err
}
