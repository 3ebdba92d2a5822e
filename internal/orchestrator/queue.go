package orchestrator

import "sync"

// jobQueue is a FIFO of pending jobs. Removal only happens at the head.
type jobQueue struct {
	mu   sync.Mutex
	jobs []*JobRecord
}

func newJobQueue() *jobQueue {
	return &jobQueue{jobs: make([]*JobRecord, 0, 16)}
}

// Enqueue appends rec at the tail.
func (q *jobQueue) Enqueue(rec *JobRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, rec)
}

// TryDequeue pops the head, or returns false when empty.
func (q *jobQueue) TryDequeue() (*JobRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil, false
	}
	rec := q.jobs[0]
	// Nil the slot so the backing array does not pin the record (and its
	// graph) after it leaves the queue.
	q.jobs[0] = nil
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return rec, true
}

// Snapshot returns the queued records, head first.
func (q *jobQueue) Snapshot() []*JobRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*JobRecord, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// Len returns the number of queued jobs.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
