package jobs

import "fmt"

// Status is a lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus converts a user supplied status filter.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, s)
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// canTransition encodes the state machine:
//
//	pending --start--> running --exit--> completed | failed | cancelled
//	pending --cancel--> cancelled
//	pending --launch error--> failed
func (s Status) canTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed || to == StatusCancelled
	case StatusRunning:
		return to.Terminal()
	}
	return false
}
