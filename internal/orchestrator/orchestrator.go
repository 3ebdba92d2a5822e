package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/kiln/internal/cache"
	"github.com/roach88/kiln/internal/engine"
	"github.com/roach88/kiln/internal/graph"
)

// SleepFunc waits for d or until ctx is done, returning ctx's error in the
// latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Orchestrator owns a FIFO of jobs and runs them one per RunNext call.
type Orchestrator struct {
	queue    *jobQueue
	clock    *Clock
	now      func() time.Time
	sleep    SleepFunc
	recorder Recorder
	metrics  *Metrics
	cache    cache.Cache
	engOpts  []engine.Option

	mu        sync.RWMutex
	observers []Observer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver registers fn to receive every state transition.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) {
		o.observers = append(o.observers, fn)
	}
}

// WithRecorder persists transitions and job outcomes through r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithSleep replaces the backoff sleep. Tests use it to avoid real delays.
func WithSleep(fn SleepFunc) Option {
	return func(o *Orchestrator) {
		o.sleep = fn
	}
}

// WithMetrics registers Prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *Orchestrator) {
		o.metrics = NewMetrics(reg)
	}
}

// WithEngineOptions passes opts to every Engine the orchestrator builds.
// A cache set here is overridden by the job cache.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *Orchestrator) {
		o.engOpts = append(o.engOpts, opts...)
	}
}

// WithCache shares c across every job instead of giving each job a fresh
// in-memory cache.
func WithCache(c cache.Cache) Option {
	return func(o *Orchestrator) {
		o.cache = c
	}
}

// WithClock sets the event sequence clock, e.g. one resumed from the ledger.
func WithClock(c *Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithNow sets the wall clock used for record and event timestamps.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an Orchestrator with an empty queue.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		queue: newJobQueue(),
		clock: NewClock(),
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Subscribe registers an observer after construction.
func (o *Orchestrator) Subscribe(fn Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// Enqueue validates plan and appends it to the queue in state Queued.
func (o *Orchestrator) Enqueue(ctx context.Context, plan JobPlan) (*JobRecord, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	rec := &JobRecord{
		ID:         uuid.NewString(),
		Plan:       plan,
		EnqueuedAt: o.now().UTC(),
	}
	// The job row must exist before its first event is recorded.
	rec.State = StateQueued
	o.record(ctx, rec)
	o.emit(ctx, rec, "")
	o.queue.Enqueue(rec)
	return rec, nil
}

// QueueLen returns the number of jobs waiting to run.
func (o *Orchestrator) QueueLen() int {
	return o.queue.Len()
}

// Pending returns the queued jobs, head first.
func (o *Orchestrator) Pending() []*JobRecord {
	return o.queue.Snapshot()
}

// SkipNext removes the head of the queue without running it and marks it
// Skipped. It returns nil when the queue is empty.
func (o *Orchestrator) SkipNext(ctx context.Context) *JobRecord {
	rec, ok := o.queue.TryDequeue()
	if !ok {
		return nil
	}
	o.finish(ctx, rec, StateSkipped)
	return rec
}

// RunNext pops the head of the queue and drives it to a terminal state.
//
// It returns (nil, nil) when the queue is empty. A job that fails is not
// an error of RunNext; the outcome is in the record. The error is non-nil
// only when ctx ends the job, in which case the record is Failed as well.
func (o *Orchestrator) RunNext(ctx context.Context) (*JobRecord, error) {
	rec, ok := o.queue.TryDequeue()
	if !ok {
		return nil, nil
	}

	log := slog.With("job", rec.Plan.Name, "job_id", rec.ID)
	rec.StartedAt = o.now().UTC()

	// One cache per job: retries reuse every node that already completed.
	jobCache := o.cache
	if jobCache == nil {
		jobCache = cache.NewMemory()
	}
	opts := append(o.engineOptions(), engine.WithCache(jobCache))

	o.transition(ctx, rec, StateRunning)
	for {
		rec.Attempts++
		summary, err := engine.New(rec.Plan.Graph.Clone(), opts...).Run(ctx, rec.Plan.Checkpoint)
		if err == nil {
			o.countAttempt("ok")
			rec.Summary = summary
			rec.LastError = ""
			o.finish(ctx, rec, StateSucceeded)
			log.Info("job succeeded", "attempts", rec.Attempts, "snapshot", summary.Checkpoint)
			return rec, nil
		}

		o.countAttempt("error")
		rec.LastError = err.Error()

		if ctxErr := ctx.Err(); ctxErr != nil {
			o.finish(ctx, rec, StateFailed)
			log.Warn("job cancelled", "attempts", rec.Attempts, "error", ctxErr)
			return rec, ctxErr
		}
		if !retryable(err) || rec.Attempts > rec.Plan.Retries {
			o.finish(ctx, rec, StateFailed)
			log.Warn("job failed", "attempts", rec.Attempts, "error", err)
			return rec, nil
		}

		log.Info("retrying job", "attempt", rec.Attempts, "backoff", rec.Plan.Backoff, "error", err)
		o.transition(ctx, rec, StateRetrying)
		if err := o.sleep(ctx, rec.Plan.Backoff); err != nil {
			rec.LastError = err.Error()
			o.finish(ctx, rec, StateFailed)
			log.Warn("job cancelled during backoff", "attempts", rec.Attempts, "error", err)
			return rec, err
		}
		o.transition(ctx, rec, StateRunning)
	}
}

// Drain runs jobs until the queue is empty or ctx is done.
func (o *Orchestrator) Drain(ctx context.Context) ([]*JobRecord, error) {
	var done []*JobRecord
	for {
		rec, err := o.RunNext(ctx)
		if rec != nil {
			done = append(done, rec)
		}
		if err != nil || rec == nil {
			return done, err
		}
	}
}

func (o *Orchestrator) engineOptions() []engine.Option {
	opts := make([]engine.Option, len(o.engOpts), len(o.engOpts)+1)
	copy(opts, o.engOpts)
	return opts
}

// retryable reports whether another attempt could produce a different
// outcome. Graph structure errors and context errors cannot.
func retryable(err error) bool {
	if graph.IsStructural(err) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (o *Orchestrator) finish(ctx context.Context, rec *JobRecord, to JobState) {
	rec.FinishedAt = o.now().UTC()
	o.transition(ctx, rec, to)
	o.record(ctx, rec)

	if o.metrics != nil {
		o.metrics.JobsTotal.WithLabelValues(string(to)).Inc()
		if !rec.StartedAt.IsZero() {
			o.metrics.JobDurationSeconds.WithLabelValues(string(to)).
				Observe(rec.FinishedAt.Sub(rec.StartedAt).Seconds())
		}
	}
}

// transition moves rec to state to and emits the event. Illegal moves are
// programming errors.
func (o *Orchestrator) transition(ctx context.Context, rec *JobRecord, to JobState) {
	from := rec.State
	if from != "" && !canTransition(from, to) {
		panic(fmt.Sprintf("orchestrator: illegal transition %s -> %s", from, to))
	}
	rec.State = to
	o.emit(ctx, rec, from)
}

// emit delivers the transition from -> rec.State to observers and the
// recorder.
func (o *Orchestrator) emit(ctx context.Context, rec *JobRecord, from JobState) {
	to := rec.State
	ev := Event{
		Seq:     o.clock.Next(),
		JobID:   rec.ID,
		Job:     rec.Plan.Name,
		From:    from,
		To:      to,
		Attempt: rec.Attempts,
		At:      o.now().UTC(),
	}
	if to == StateFailed || to == StateRetrying {
		ev.Err = rec.LastError
	}

	o.mu.RLock()
	observers := o.observers
	o.mu.RUnlock()
	for _, fn := range observers {
		fn(ev)
	}

	if o.recorder != nil {
		if err := o.recorder.RecordEvent(context.WithoutCancel(ctx), ev); err != nil {
			slog.Warn("record event failed", "job_id", rec.ID, "seq", ev.Seq, "error", err)
		}
	}
}

// record persists rec. The ledger is best effort; a write failure never
// changes a job's outcome.
func (o *Orchestrator) record(ctx context.Context, rec *JobRecord) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordJob(context.WithoutCancel(ctx), rec); err != nil {
		slog.Warn("record job failed", "job_id", rec.ID, "state", rec.State, "error", err)
	}
}

func (o *Orchestrator) countAttempt(outcome string) {
	if o.metrics != nil {
		o.metrics.AttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
