// Package harness runs kiln scenarios: small, deterministic end-to-end
// checks of the orchestrator, engine and ledger working together.
//
// A scenario enqueues one or more jobs, optionally injects stage faults,
// drains the queue and then asserts on the event trace, the ledger and
// the number of stage calls.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: flaky_persist
//	description: "persist fails once; the retry reuses cached nodes"
//	jobs:
//	  - name: etl
//	    retries: 2
//	    nodes:                # omit for Analyze -> Decide -> Persist
//	      - {name: scan, kind: analyze}
//	      - {name: save, kind: persist}
//	    edges:
//	      - {from: scan, to: save}
//	faults:
//	  - {job: etl, node: save, times: 1}
//	assertions:
//	  - {type: final_state, job: etl, state: succeeded, attempts: 2}
//	  - {type: event_order, job: etl, states: [queued, running, retrying, running, succeeded]}
//	  - {type: stage_calls, job: etl, node: scan, count: 1}
//
// # Assertion Types
//
//   - final_state: the job's ledger row has the given state (and attempts, if set)
//   - event_order: the job's transitions, in order, are exactly states
//   - event_count: the job entered state exactly count times
//   - stage_calls: the node's stage ran exactly count times
//   - cache_hits: the job's recorded snapshot has exactly count cache hits
//
// # Deterministic Execution
//
// Every scenario runs against a fresh in-memory ledger, a fixed wall clock
// starting at testutil.Epoch, and a backoff that advances that clock
// instead of sleeping. Node ids derive from job and node names, so traces
// are byte-identical across runs and can be compared against golden files
// with RunWithGolden.
package harness
