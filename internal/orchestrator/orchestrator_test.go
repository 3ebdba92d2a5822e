package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/cache"
	"github.com/roach88/kiln/internal/engine"
	"github.com/roach88/kiln/internal/graph"
	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/testutil"
)

var errBoom = errors.New("boom")

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// failingStage fails the first n calls, then behaves like DefaultStage.
func failingStage(n int32, calls *atomic.Int32) engine.Stage {
	return engine.StageFunc(func(ctx context.Context, node ir.GraphNode, inputs map[string]ir.DataHandle) (map[string]engine.Output, error) {
		if calls.Add(1) <= n {
			return nil, errBoom
		}
		return engine.DefaultStage.Run(ctx, node, inputs)
	})
}

// countingStage wraps DefaultStage and counts calls.
func countingStage(calls *atomic.Int32) engine.Stage {
	return engine.StageFunc(func(ctx context.Context, node ir.GraphNode, inputs map[string]ir.DataHandle) (map[string]engine.Output, error) {
		calls.Add(1)
		return engine.DefaultStage.Run(ctx, node, inputs)
	})
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) states() []JobState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]JobState, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.To
	}
	return out
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []Event
	jobs   []JobRecord
	err    error
}

func (r *fakeRecorder) RecordEvent(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *fakeRecorder) RecordJob(_ context.Context, rec *JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, *rec)
	return r.err
}

func TestSimple_BuildsThreeNodeChain(t *testing.T) {
	plan := Simple("demo", t.TempDir())

	assert.Equal(t, DefaultRetries, plan.Retries)
	assert.Equal(t, 5*time.Second, plan.Backoff)
	require.NoError(t, plan.Validate())

	order, err := plan.Graph.TopoOrder()
	require.NoError(t, err)
	var names []string
	for _, id := range order {
		n, _ := plan.Graph.Node(id)
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"analyze", "decide", "persist"}, names)
	assert.Equal(t, 2, plan.Graph.EdgeCount())
}

func TestJobPlan_Validate(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		mutate func(*JobPlan)
	}{
		{"missing name", func(p *JobPlan) { p.Name = "" }},
		{"missing checkpoint", func(p *JobPlan) { p.Checkpoint = "" }},
		{"negative retries", func(p *JobPlan) { p.Retries = -1 }},
		{"negative backoff", func(p *JobPlan) { p.Backoff = -time.Second }},
		{"nil graph", func(p *JobPlan) { p.Graph = nil }},
		{"empty graph", func(p *JobPlan) { p.Graph = graph.New() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Simple("demo", dir)
			tt.mutate(&plan)
			assert.Error(t, plan.Validate())
		})
	}
}

func TestRunNext_EmptyQueue(t *testing.T) {
	o := New()
	rec, err := o.RunNext(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRunNext_SimpleJobSucceeds(t *testing.T) {
	dir := t.TempDir()
	o := New(WithSleep(noSleep))

	_, err := o.Enqueue(context.Background(), Simple("demo", dir))
	require.NoError(t, err)
	assert.Equal(t, 1, o.QueueLen())

	rec, err := o.RunNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, StateSucceeded, rec.State)
	assert.Equal(t, 1, rec.Attempts)
	assert.Empty(t, rec.LastError)
	require.NotNil(t, rec.Summary)
	assert.Len(t, rec.Summary.Executed, 3)
	assert.Equal(t, 0, o.QueueLen())

	matches, err := filepath.Glob(filepath.Join(dir, "snapshot-*.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, matches)
}

func TestEnqueue_RejectsInvalidPlan(t *testing.T) {
	o := New()
	_, err := o.Enqueue(context.Background(), JobPlan{Name: "bad"})
	assert.Error(t, err)
	assert.Equal(t, 0, o.QueueLen())
}

func TestRunNext_FIFO(t *testing.T) {
	o := New(WithSleep(noSleep))
	for _, name := range []string{"first", "second", "third"} {
		_, err := o.Enqueue(context.Background(), Simple(name, t.TempDir()))
		require.NoError(t, err)
	}

	pending := o.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, "first", pending[0].Plan.Name)

	done, err := o.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, done, 3)
	for i, name := range []string{"first", "second", "third"} {
		assert.Equal(t, name, done[i].Plan.Name)
		assert.Equal(t, StateSucceeded, done[i].State)
	}
}

func TestRunNext_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	var log eventLog
	var slept []time.Duration

	o := New(
		WithObserver(log.observe),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}),
		WithEngineOptions(engine.WithStage(ir.KindDecide, failingStage(100, &calls))),
	)
	plan := Simple("doomed", t.TempDir())
	plan.Retries = 2
	plan.Backoff = 3 * time.Second
	_, err := o.Enqueue(context.Background(), plan)
	require.NoError(t, err)

	rec, err := o.RunNext(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, 3, rec.Attempts)
	assert.Contains(t, rec.LastError, "boom")
	assert.Nil(t, rec.Summary)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, slept)

	assert.Equal(t, []JobState{
		StateQueued,
		StateRunning, StateRetrying,
		StateRunning, StateRetrying,
		StateRunning, StateFailed,
	}, log.states())

	paths, err := engine.ListSnapshots(plan.Checkpoint)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestRunNext_EventsAreSequenced(t *testing.T) {
	var calls atomic.Int32
	var log eventLog
	o := New(
		WithObserver(log.observe),
		WithSleep(noSleep),
		WithEngineOptions(engine.WithStage(ir.KindPersist, failingStage(1, &calls))),
	)
	_, err := o.Enqueue(context.Background(), Simple("flaky", t.TempDir()))
	require.NoError(t, err)

	rec, err := o.RunNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, rec.State)
	assert.Equal(t, 2, rec.Attempts)

	require.Len(t, log.events, 5)
	for i, ev := range log.events {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, rec.ID, ev.JobID)
		assert.Equal(t, "flaky", ev.Job)
	}
	assert.Equal(t, JobState(""), log.events[0].From)
	assert.Equal(t, StateRunning, log.events[2].From)
	assert.Equal(t, StateRetrying, log.events[2].To)
	assert.Equal(t, 1, log.events[2].Attempt)
	assert.Contains(t, log.events[2].Err, "boom")
	assert.Equal(t, StateSucceeded, log.events[4].To)
	assert.Empty(t, log.events[4].Err)
}

func TestRunNext_RetryReusesCompletedNodes(t *testing.T) {
	var analyzeCalls, decideCalls, persistCalls atomic.Int32
	o := New(
		WithSleep(noSleep),
		WithEngineOptions(
			engine.WithStage(ir.KindAnalyze, countingStage(&analyzeCalls)),
			engine.WithStage(ir.KindDecide, countingStage(&decideCalls)),
			engine.WithStage(ir.KindPersist, failingStage(1, &persistCalls)),
		),
	)
	_, err := o.Enqueue(context.Background(), Simple("incremental", t.TempDir()))
	require.NoError(t, err)

	rec, err := o.RunNext(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, rec.State)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, int32(1), analyzeCalls.Load())
	assert.Equal(t, int32(1), decideCalls.Load())
	assert.Equal(t, int32(2), persistCalls.Load())
	assert.Equal(t, 2, rec.Summary.CacheHits)
	assert.Equal(t, 1, rec.Summary.CacheMisses)
}

func TestRunNext_JobsDoNotShareCacheByDefault(t *testing.T) {
	var calls atomic.Int32
	o := New(WithEngineOptions(engine.WithStage(ir.KindAnalyze, countingStage(&calls))))
	for range 2 {
		_, err := o.Enqueue(context.Background(), Simple("demo", t.TempDir()))
		require.NoError(t, err)
	}
	_, err := o.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRunNext_SharedCacheHitsAcrossJobs(t *testing.T) {
	var calls atomic.Int32
	o := New(
		WithCache(cache.NewMemory()),
		WithEngineOptions(engine.WithStage(ir.KindAnalyze, countingStage(&calls))),
	)
	for range 2 {
		_, err := o.Enqueue(context.Background(), Simple("demo", t.TempDir()))
		require.NoError(t, err)
	}
	recs, err := o.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 3, recs[1].Summary.CacheHits)
}

func TestRunNext_StructuralErrorNotRetried(t *testing.T) {
	g := graph.New()
	a := g.MustAddNode(ir.GraphNode{Name: "a", Kind: ir.KindAnalyze})
	b := g.MustAddNode(ir.GraphNode{Name: "b", Kind: ir.KindDecide})
	require.NoError(t, g.AddEdge(a, b))
	require.NoError(t, g.AddEdge(b, a))

	sleeps := 0
	o := New(WithSleep(func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}))
	_, err := o.Enqueue(context.Background(), JobPlan{
		Name:       "cyclic",
		Graph:      g,
		Checkpoint: t.TempDir(),
		Retries:    5,
	})
	require.NoError(t, err)

	rec, err := o.RunNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, 1, rec.Attempts)
	assert.Contains(t, rec.LastError, "cycle")
	assert.Zero(t, sleeps)
}

func TestRunNext_CancelledBeforeRun(t *testing.T) {
	o := New(WithSleep(noSleep))
	_, err := o.Enqueue(context.Background(), Simple("demo", t.TempDir()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := o.RunNext(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rec)
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, 1, rec.Attempts)
	assert.Contains(t, rec.LastError, "canceled")
}

func TestRunNext_CancelledDuringBackoff(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := New(
		WithSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}),
		WithEngineOptions(engine.WithStage(ir.KindAnalyze, failingStage(100, &calls))),
	)
	_, err := o.Enqueue(context.Background(), Simple("demo", t.TempDir()))
	require.NoError(t, err)

	rec, err := o.RunNext(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), 0))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestSkipNext(t *testing.T) {
	var log eventLog
	o := New(WithObserver(log.observe))
	assert.Nil(t, o.SkipNext(context.Background()))

	_, err := o.Enqueue(context.Background(), Simple("skip-me", t.TempDir()))
	require.NoError(t, err)

	rec := o.SkipNext(context.Background())
	require.NotNil(t, rec)
	assert.Equal(t, StateSkipped, rec.State)
	assert.True(t, rec.State.Terminal())
	assert.Zero(t, rec.Attempts)
	assert.Equal(t, 0, o.QueueLen())
	assert.Equal(t, []JobState{StateQueued, StateSkipped}, log.states())
}

func TestRecorder_ReceivesEventsAndOutcome(t *testing.T) {
	rec := &fakeRecorder{}
	o := New(WithRecorder(rec), WithClock(NewClockAt(41)))

	_, err := o.Enqueue(context.Background(), Simple("demo", t.TempDir()))
	require.NoError(t, err)
	job, err := o.RunNext(context.Background())
	require.NoError(t, err)

	require.Len(t, rec.events, 3)
	assert.Equal(t, int64(42), rec.events[0].Seq)
	assert.Equal(t, int64(44), rec.events[2].Seq)

	require.Len(t, rec.jobs, 2)
	assert.Equal(t, StateQueued, rec.jobs[0].State)
	assert.Equal(t, StateSucceeded, rec.jobs[1].State)
	assert.Equal(t, job.ID, rec.jobs[1].ID)
}

func TestRecorder_ErrorsDoNotFailJob(t *testing.T) {
	o := New(WithRecorder(&fakeRecorder{err: errors.New("disk full")}))
	_, err := o.Enqueue(context.Background(), Simple("demo", t.TempDir()))
	require.NoError(t, err)

	rec, err := o.RunNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, rec.State)
}

func TestRecord_Timestamps(t *testing.T) {
	clock := testutil.NewFixedClock(time.Time{})
	o := New(WithNow(clock.Now))
	_, err := o.Enqueue(context.Background(), Simple("demo", t.TempDir()))
	require.NoError(t, err)

	rec, err := o.RunNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testutil.Epoch, rec.EnqueuedAt)
	assert.Equal(t, testutil.Epoch, rec.StartedAt)
	assert.Equal(t, testutil.Epoch, rec.FinishedAt)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	var calls atomic.Int32
	o := New(
		WithMetrics(reg),
		WithSleep(noSleep),
		WithEngineOptions(engine.WithStage(ir.KindPersist, failingStage(1, &calls))),
	)

	_, err := o.Enqueue(context.Background(), Simple("flaky", t.TempDir()))
	require.NoError(t, err)
	_, err = o.RunNext(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, promtest.ToFloat64(o.metrics.JobsTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, promtest.ToFloat64(o.metrics.AttemptsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(o.metrics.AttemptsTotal.WithLabelValues("error")))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "kiln_orchestrator_jobs_total")
	assert.Contains(t, names, "kiln_orchestrator_job_attempts_total")
	assert.Contains(t, names, "kiln_orchestrator_job_duration_seconds")
}

func TestJobState_Terminal(t *testing.T) {
	assert.False(t, StateQueued.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.False(t, StateRetrying.Terminal())
	assert.True(t, StateSucceeded.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateSkipped.Terminal())
}

func TestTransition_RejectsIllegalMove(t *testing.T) {
	o := New()
	rec := &JobRecord{State: StateSucceeded}
	assert.Panics(t, func() { o.transition(context.Background(), rec, StateRunning) })
}
