// Package orchestrator runs pipeline jobs from a FIFO queue with bounded
// retries and a fixed backoff between attempts.
//
// A job moves through an explicit state machine:
//
//	Queued -> Running -> Succeeded
//	                  -> Retrying -> Running -> ...
//	                  -> Failed
//
// Skipped is reserved for jobs an operator removes without running.
// Every transition is stamped with a sequence number from a logical clock
// and delivered to observers and the optional Recorder.
//
// Graph structure errors fail a job on the first attempt. Stage and storage
// errors are retried until Retries is exhausted. Each attempt runs a fresh
// Engine over a clone of the job's graph, but all attempts of one job share
// a cache, so a retry only re-executes nodes that did not complete.
//
// One Orchestrator processes one job per RunNext call. Independent
// Orchestrators may run concurrently against disjoint checkpoint
// directories.
package orchestrator
