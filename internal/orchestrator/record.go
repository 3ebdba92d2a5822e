package orchestrator

import (
	"time"

	"github.com/roach88/kiln/internal/engine"
)

// JobState is a job's position in the retry state machine.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateRetrying  JobState = "retrying"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateSkipped   JobState = "skipped"
)

// Terminal reports whether no further transition can happen.
func (s JobState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateSkipped:
		return true
	}
	return false
}

// validTransitions lists the allowed edges of the state machine.
var validTransitions = map[JobState][]JobState{
	StateQueued:   {StateRunning, StateSkipped},
	StateRunning:  {StateSucceeded, StateRetrying, StateFailed},
	StateRetrying: {StateRunning, StateFailed},
}

func canTransition(from, to JobState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// JobRecord is the runtime status of one job.
type JobRecord struct {
	ID         string                   `json:"id"`
	Plan       JobPlan                  `json:"plan"`
	State      JobState                 `json:"state"`
	Attempts   int                      `json:"attempts"`
	LastError  string                   `json:"last_error,omitempty"`
	Summary    *engine.ExecutionSummary `json:"summary,omitempty"`
	EnqueuedAt time.Time                `json:"enqueued_at"`
	StartedAt  time.Time                `json:"started_at,omitzero"`
	FinishedAt time.Time                `json:"finished_at,omitzero"`
}
