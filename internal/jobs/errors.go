package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrSubmission is returned by Submit when no job could be created.
	ErrSubmission = errors.New("submission error")
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrNotFinished is returned by Result for pending and running jobs.
	ErrNotFinished = errors.New("job not finished")
	// ErrJobFailed is returned by Result for failed jobs, together with the *Error of the job.
	ErrJobFailed = errors.New("job failed")
	// ErrJobCancelled is returned by Result for cancelled jobs.
	ErrJobCancelled = errors.New("job cancelled")
	// ErrInvalidArgument reports a malformed query (negative tail, unknown status).
	ErrInvalidArgument = errors.New("invalid argument")
)

// ErrorKind classifies why a job did not complete.
type ErrorKind string

const (
	KindSubmission  ErrorKind = "submission_error"
	KindLaunch      ErrorKind = "launch_error"
	KindRuntime     ErrorKind = "runtime_error"
	KindResultParse ErrorKind = "result_parse_error"
)

// Error is the failure reason recorded on a failed job.
type Error struct {
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	ExitCode *int      `json:"exit_code,omitempty"`
}

func (e *Error) Error() string {
	if e.ExitCode != nil {
		return fmt.Sprintf("%s: %s (exit code %d)", e.Kind, e.Message, *e.ExitCode)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) clone() *Error {
	if e == nil {
		return nil
	}
	c := *e
	if e.ExitCode != nil {
		code := *e.ExitCode
		c.ExitCode = &code
	}
	return &c
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}
