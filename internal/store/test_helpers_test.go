package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/kiln/internal/orchestrator"
)

var testTime = time.Date(2026, time.March, 4, 5, 6, 7, 890, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestJob creates a queued job record over the simple plan.
func createTestJob(t *testing.T, id, name string) *orchestrator.JobRecord {
	t.Helper()
	return &orchestrator.JobRecord{
		ID:         id,
		Plan:       orchestrator.Simple(name, t.TempDir()),
		State:      orchestrator.StateQueued,
		EnqueuedAt: testTime,
	}
}
