package core

import "time"

// JobState is the lifecycle state of a supervised worker run.
// Transitions are monotonic: running is the only non-terminal state,
// and a terminal state is never left.
type JobState string

const (
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// TerminationCause records why a job left the running state.
type TerminationCause string

const (
	CauseExited    TerminationCause = "exited"
	CauseCancelled TerminationCause = "cancelled"
	CauseTimedOut  TerminationCause = "timed-out"
)

// Job is a read-only snapshot of one worker invocation in a slot.
// Only the supervisor mutates the underlying record; everyone else
// sees copies of this struct.
type Job struct {
	ID        string           `json:"id"`
	Slot      string           `json:"slot"`
	Program   string           `json:"program"`
	Args      []string         `json:"args,omitempty"`
	Dir       string           `json:"dir,omitempty"`
	State     JobState         `json:"state"`
	StartedAt time.Time        `json:"started_at"`
	ExitCode  *int             `json:"exit_code,omitempty"`
	Cause     TerminationCause `json:"cause,omitempty"`
	Err       string           `json:"err,omitempty"`
}

// Succeeded reports whether the job completed with exit code zero.
// A non-zero exit is still StateCompleted; the code carries the
// worker's own verdict.
func (j Job) Succeeded() bool {
	return j.State == StateCompleted && j.ExitCode != nil && *j.ExitCode == 0
}
