package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/kiln/internal/digest"
	"github.com/roach88/kiln/internal/orchestrator"
)

var _ orchestrator.Recorder = (*Store)(nil)

// RecordJob upserts the job row for rec. When rec carries a summary, the
// snapshot it produced is recorded in the same transaction.
func (s *Store) RecordJob(ctx context.Context, rec *orchestrator.JobRecord) error {
	fingerprint := ""
	if rec.Plan.Graph != nil {
		fp, err := rec.Plan.Graph.Fingerprint()
		if err != nil {
			return fmt.Errorf("record job: %w", err)
		}
		fingerprint = fp
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record job: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs
		(id, name, checkpoint, retries, backoff_ms, fingerprint, state, attempts, last_error, enqueued_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`,
		rec.ID,
		rec.Plan.Name,
		rec.Plan.Checkpoint,
		rec.Plan.Retries,
		rec.Plan.Backoff.Milliseconds(),
		fingerprint,
		string(rec.State),
		rec.Attempts,
		rec.LastError,
		formatTime(rec.EnqueuedAt),
		formatNullTime(rec.StartedAt),
		formatNullTime(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("record job: %w", err)
	}

	if sum := rec.Summary; sum != nil && sum.Checkpoint != "" {
		recordedAt := rec.FinishedAt
		if recordedAt.IsZero() {
			recordedAt = time.Now()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshots (path, job_id, nodes, cache_hits, cache_misses, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(path) DO NOTHING
		`,
			sum.Checkpoint,
			rec.ID,
			len(sum.Executed),
			sum.CacheHits,
			sum.CacheMisses,
			formatTime(recordedAt),
		)
		if err != nil {
			return fmt.Errorf("record snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record job: commit: %w", err)
	}
	return nil
}

// RecordEvent appends a state transition. Uses ON CONFLICT(seq) DO NOTHING
// for idempotency; the job row must already exist.
func (s *Store) RecordEvent(ctx context.Context, ev orchestrator.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_events (seq, job_id, from_state, to_state, attempt, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		ev.Seq,
		ev.JobID,
		string(ev.From),
		string(ev.To),
		ev.Attempt,
		ev.Err,
		formatTime(ev.At),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// RecordDigest stores a digest report as a new run and returns its id.
func (s *Store) RecordDigest(ctx context.Context, report digest.Report, at time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("record digest: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO digest_runs (root, recorded_at) VALUES (?, ?)
	`, report.Root, formatTime(at))
	if err != nil {
		return 0, fmt.Errorf("record digest: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record digest: run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO assets (run_id, kind, path, digest, provenance, trust, size)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("record digest: prepare: %w", err)
	}
	defer stmt.Close()

	for _, a := range report.Assets {
		if _, err := stmt.ExecContext(ctx, runID, string(a.Kind), a.Path, a.Digest, a.Provenance, a.Trust, a.Size); err != nil {
			return 0, fmt.Errorf("record asset %s: %w", a.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("record digest: commit: %w", err)
	}
	return runID, nil
}
