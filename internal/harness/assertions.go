package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/kiln/internal/orchestrator"
)

// AssertionError is returned when an assertion fails.
// It includes the job's trace to help debug the failure.
type AssertionError struct {
	Type     string
	Job      string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s (job %s)\n", e.Type, e.Job)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nJob trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s -> %s (attempt %d)", ev.Seq, ev.From, ev.To, ev.Attempt)
			if ev.Error != "" {
				fmt.Fprintf(&buf, ": %s", ev.Error)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// evaluate checks every assertion and returns one message per failure.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertFinalState:
			err = h.assertFinalState(ctx, a)
		case AssertEventOrder:
			err = assertEventOrder(h.result, a)
		case AssertEventCount:
			err = assertEventCount(h.result, a)
		case AssertStageCalls:
			err = assertStageCalls(h.result, a)
		case AssertCacheHits:
			err = h.assertCacheHits(ctx, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertFinalState reads the job back from the ledger, so it also checks
// that the recorder saw the final transition.
func (h *Harness) assertFinalState(ctx context.Context, a Assertion) error {
	job, err := h.store.Job(ctx, h.jobIDs[a.Job])
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Job:      a.Job,
			Expected: "job row in the ledger",
			Actual:   err.Error(),
		}
	}

	if job.State != orchestrator.JobState(a.State) {
		return &AssertionError{
			Type:     AssertFinalState,
			Job:      a.Job,
			Expected: fmt.Sprintf("state %s", a.State),
			Actual:   fmt.Sprintf("state %s", job.State),
			Trace:    h.result.jobTrace(a.Job),
		}
	}
	if a.Attempts > 0 && job.Attempts != a.Attempts {
		return &AssertionError{
			Type:     AssertFinalState,
			Job:      a.Job,
			Expected: fmt.Sprintf("%d attempts", a.Attempts),
			Actual:   fmt.Sprintf("%d attempts", job.Attempts),
			Trace:    h.result.jobTrace(a.Job),
		}
	}
	return nil
}

// assertEventOrder requires the job's transitions to match exactly.
func assertEventOrder(r *Result, a Assertion) error {
	trace := r.jobTrace(a.Job)
	got := make([]string, len(trace))
	for i, ev := range trace {
		got[i] = ev.To
	}
	if slices.Equal(got, a.States) {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventOrder,
		Job:      a.Job,
		Expected: strings.Join(a.States, " -> "),
		Actual:   strings.Join(got, " -> "),
		Trace:    trace,
	}
}

func assertEventCount(r *Result, a Assertion) error {
	trace := r.jobTrace(a.Job)
	count := 0
	for _, ev := range trace {
		if ev.To == a.State {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventCount,
		Job:      a.Job,
		Expected: fmt.Sprintf("%d transitions to %s", a.Count, a.State),
		Actual:   fmt.Sprintf("%d transitions", count),
		Trace:    trace,
	}
}

func assertStageCalls(r *Result, a Assertion) error {
	got := r.Calls[a.Job+"/"+a.Node]
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertStageCalls,
		Job:      a.Job,
		Expected: fmt.Sprintf("%d calls of %s", a.Count, a.Node),
		Actual:   fmt.Sprintf("%d calls", got),
		Trace:    r.jobTrace(a.Job),
	}
}

// assertCacheHits checks the snapshot row the ledger recorded for the job.
func (h *Harness) assertCacheHits(ctx context.Context, a Assertion) error {
	snaps, err := h.store.Snapshots(ctx, h.jobIDs[a.Job])
	if err != nil {
		return fmt.Errorf("cache_hits: %w", err)
	}
	if len(snaps) == 0 {
		return &AssertionError{
			Type:     AssertCacheHits,
			Job:      a.Job,
			Expected: fmt.Sprintf("a snapshot with %d cache hits", a.Count),
			Actual:   "no snapshot recorded",
			Trace:    h.result.jobTrace(a.Job),
		}
	}
	last := snaps[len(snaps)-1]
	if last.CacheHits == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertCacheHits,
		Job:      a.Job,
		Expected: fmt.Sprintf("%d cache hits", a.Count),
		Actual:   fmt.Sprintf("%d cache hits", last.CacheHits),
	}
}
