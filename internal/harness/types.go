package harness

import (
	"github.com/roach88/kiln/internal/orchestrator"
)

// TraceEvent is one job state transition as seen by the harness.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Job     string `json:"job"`
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds every transition of every job, in sequence order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed assertion.
	Errors []string `json:"errors,omitempty"`

	// Calls counts stage executions per "job/node".
	Calls map[string]int `json:"calls"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Calls:  make(map[string]int),
	}
}

// AddError records a failed assertion and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// observe appends an orchestrator event to the trace.
func (r *Result) observe(ev orchestrator.Event) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     ev.Seq,
		Job:     ev.Job,
		From:    string(ev.From),
		To:      string(ev.To),
		Attempt: ev.Attempt,
		Error:   ev.Err,
	})
}

// jobTrace returns the events of one job, in order.
func (r *Result) jobTrace(job string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Job == job {
			out = append(out, ev)
		}
	}
	return out
}
