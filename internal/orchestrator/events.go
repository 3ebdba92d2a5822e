package orchestrator

import (
	"context"
	"time"
)

// Event is one job state transition.
type Event struct {
	Seq     int64     `json:"seq"`
	JobID   string    `json:"job_id"`
	Job     string    `json:"job"`
	From    JobState  `json:"from"`
	To      JobState  `json:"to"`
	Attempt int       `json:"attempt"`
	Err     string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Observer receives every transition synchronously. It must not block.
type Observer func(Event)

// Recorder persists transitions and terminal job outcomes. The ledger in
// internal/store implements it.
type Recorder interface {
	RecordEvent(ctx context.Context, ev Event) error
	RecordJob(ctx context.Context, rec *JobRecord) error
}
