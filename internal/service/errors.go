package service

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/docpipe/internal/models"
)

// ErrJobNotFound is returned for operations on unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// InvalidTransitionError means the requested status change has no edge in
// the state table.
type InvalidTransitionError struct {
	JobID string
	From  models.JobStatus
	To    models.JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.JobID, e.From, e.To)
}

// InvalidStateError means the operation is not applicable to the job's
// current status (e.g. retrying a completed job).
type InvalidStateError struct {
	JobID  string
	Status models.JobStatus
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("job %s: cannot %s while %s", e.JobID, e.Op, e.Status)
}
