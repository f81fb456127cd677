package model

// JobStatus is the lifecycle state of a render job.
type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusCompositing JobStatus = "compositing"
	StatusRendering   JobStatus = "rendering"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
)

// validTransitions is the authoritative status graph. Jobs move strictly
// forward; failed terminates a running stage but never a job that has not
// started. Retries within a stage do not change status, and admin retries
// clone a new job instead of re-opening a terminal one.
var validTransitions = map[JobStatus][]JobStatus{
	StatusPending:     {StatusCompositing},
	StatusCompositing: {StatusRendering, StatusFailed},
	StatusRendering:   {StatusCompleted, StatusFailed},
	StatusCompleted:   {},
	StatusFailed:      {},
}

// Valid reports whether s is a known status value.
func (s JobStatus) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Terminal reports whether s is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether s may move to the given status.
// Idempotent same-status updates are allowed.
func (s JobStatus) CanTransitionTo(to JobStatus) bool {
	if s == to {
		return true
	}
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
