package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/kiln/internal/digest"
	"github.com/roach88/kiln/internal/orchestrator"
)

// Job is a ledger row for one orchestrator job. The graph itself is not
// stored, only its fingerprint.
type Job struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Checkpoint  string                `json:"checkpoint"`
	Retries     int                   `json:"retries"`
	Backoff     time.Duration         `json:"backoff"`
	Fingerprint string                `json:"fingerprint"`
	State       orchestrator.JobState `json:"state"`
	Attempts    int                   `json:"attempts"`
	LastError   string                `json:"last_error,omitempty"`
	EnqueuedAt  time.Time             `json:"enqueued_at"`
	StartedAt   time.Time             `json:"started_at,omitzero"`
	FinishedAt  time.Time             `json:"finished_at,omitzero"`
}

// Snapshot is a ledger row for one snapshot file.
type Snapshot struct {
	Path        string    `json:"path"`
	JobID       string    `json:"job_id"`
	Nodes       int       `json:"nodes"`
	CacheHits   int       `json:"cache_hits"`
	CacheMisses int       `json:"cache_misses"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// DigestRun is one recorded digest scan.
type DigestRun struct {
	ID         int64     `json:"id"`
	Root       string    `json:"root"`
	RecordedAt time.Time `json:"recorded_at"`
}

const jobColumns = `id, name, checkpoint, retries, backoff_ms, fingerprint, state, attempts, last_error, enqueued_at, started_at, finished_at`

// Jobs returns every job, oldest first. A non-empty state filters by state.
//
// Returns an empty slice (not nil) if there are no jobs.
func (s *Store) Jobs(ctx context.Context, state orchestrator.JobState) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY enqueued_at ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// Job retrieves a single job by ID.
// Returns ErrNotFound if there is no such job.
func (s *Store) Job(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var (
		job               Job
		state             string
		backoffMS         int64
		enqueued          string
		started, finished sql.NullString
	)
	err := row.Scan(
		&job.ID, &job.Name, &job.Checkpoint, &job.Retries, &backoffMS, &job.Fingerprint,
		&state, &job.Attempts, &job.LastError, &enqueued, &started, &finished,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, err
		}
		return Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.State = orchestrator.JobState(state)
	job.Backoff = time.Duration(backoffMS) * time.Millisecond

	if job.EnqueuedAt, err = parseTime(enqueued); err != nil {
		return Job{}, err
	}
	if job.StartedAt, err = parseNullTime(started); err != nil {
		return Job{}, err
	}
	if job.FinishedAt, err = parseNullTime(finished); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Events returns the transitions of one job ordered by seq.
func (s *Store) Events(ctx context.Context, jobID string) ([]orchestrator.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.seq, e.job_id, j.name, e.from_state, e.to_state, e.attempt, e.error, e.at
		FROM job_events e
		JOIN jobs j ON e.job_id = j.id
		WHERE e.job_id = ?
		ORDER BY e.seq ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []orchestrator.Event{}
	for rows.Next() {
		var (
			ev       orchestrator.Event
			from, to string
			at       string
		)
		if err := rows.Scan(&ev.Seq, &ev.JobID, &ev.Job, &from, &to, &ev.Attempt, &ev.Err, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.From = orchestrator.JobState(from)
		ev.To = orchestrator.JobState(to)
		if ev.At, err = parseTime(at); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LastSeq returns the highest recorded event sequence number, or 0.
// A new orchestrator resumes its clock from here so sequence numbers stay
// unique across processes sharing one ledger.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM job_events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq.Int64, nil
}

// Snapshots returns recorded snapshots, oldest first. A non-empty jobID
// restricts the result to one job.
func (s *Store) Snapshots(ctx context.Context, jobID string) ([]Snapshot, error) {
	query := `SELECT path, COALESCE(job_id, ''), nodes, cache_hits, cache_misses, recorded_at FROM snapshots`
	var args []any
	if jobID != "" {
		query += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY recorded_at ASC, path COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []Snapshot{}
	for rows.Next() {
		var (
			snap Snapshot
			at   string
		)
		if err := rows.Scan(&snap.Path, &snap.JobID, &snap.Nodes, &snap.CacheHits, &snap.CacheMisses, &at); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if snap.RecordedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}

// LatestDigest returns the most recent digest run for root and its assets
// in (kind, path) order. Returns ErrNotFound if root was never digested.
func (s *Store) LatestDigest(ctx context.Context, root string) (DigestRun, []digest.AssetRecord, error) {
	var (
		run DigestRun
		at  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, root, recorded_at FROM digest_runs
		WHERE root = ?
		ORDER BY id DESC
		LIMIT 1
	`, root).Scan(&run.ID, &run.Root, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return DigestRun{}, nil, fmt.Errorf("digest of %s: %w", root, ErrNotFound)
	}
	if err != nil {
		return DigestRun{}, nil, fmt.Errorf("query digest run: %w", err)
	}
	if run.RecordedAt, err = parseTime(at); err != nil {
		return DigestRun{}, nil, err
	}

	assets, err := s.Assets(ctx, run.ID)
	if err != nil {
		return DigestRun{}, nil, err
	}
	return run, assets, nil
}

// Assets returns the assets of one digest run in (kind, path) order.
func (s *Store) Assets(ctx context.Context, runID int64) ([]digest.AssetRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, path, digest, provenance, trust, size
		FROM assets
		WHERE run_id = ?
		ORDER BY kind COLLATE BINARY ASC, path COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	assets := []digest.AssetRecord{}
	for rows.Next() {
		var (
			a    digest.AssetRecord
			kind string
		)
		if err := rows.Scan(&kind, &a.Path, &a.Digest, &a.Provenance, &a.Trust, &a.Size); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		a.Kind = digest.AssetKind(kind)
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return assets, nil
}
