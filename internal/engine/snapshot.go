package engine

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"

	"github.com/roach88/kiln/internal/fsutil"
	"github.com/roach88/kiln/internal/ir"
)

var snapshotName = regexp.MustCompile(`^snapshot-(\d+)(?:-(\d+))?\.json$`)

// maxSnapshotSuffix bounds the search for a free name within one second.
const maxSnapshotSuffix = 10000

// writeSnapshot persists snap as snapshot-<unix-seconds>.json inside dir.
// If that name is taken (two runs in the same second), -1, -2, ... is
// appended. Existing files are never overwritten and a partially written
// file is never visible.
func writeSnapshot(dir string, snap ir.Snapshot) (string, error) {
	data, err := ir.MarshalJSONIndent(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	secs := snap.CapturedAt.Unix()
	for n := 0; n < maxSnapshotSuffix; n++ {
		name := fmt.Sprintf("snapshot-%d.json", secs)
		if n > 0 {
			name = fmt.Sprintf("snapshot-%d-%d.json", secs, n)
		}
		path := filepath.Join(dir, name)

		err := fsutil.WriteFileNew(path, data, 0o644)
		if err == nil {
			slog.Debug("snapshot written", "path", path, "nodes", len(snap.Nodes))
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("write snapshot %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("write snapshot: no free name for second %d in %s", secs, dir)
}

// LoadSnapshot reads one snapshot file.
func LoadSnapshot(path string) (ir.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap ir.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return ir.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return snap, nil
}

type snapshotFile struct {
	path   string
	secs   int64
	suffix int64
}

// ListSnapshots returns the snapshot files in dir, oldest first.
func ListSnapshots(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var files []snapshotFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := snapshotName.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		f := snapshotFile{path: filepath.Join(dir, entry.Name())}
		f.secs, _ = strconv.ParseInt(m[1], 10, 64)
		if m[2] != "" {
			f.suffix, _ = strconv.ParseInt(m[2], 10, 64)
		}
		files = append(files, f)
	}

	slices.SortFunc(files, func(a, b snapshotFile) int {
		if a.secs != b.secs {
			return cmp.Compare(a.secs, b.secs)
		}
		return cmp.Compare(a.suffix, b.suffix)
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// LatestSnapshot loads the newest snapshot in dir.
func LatestSnapshot(dir string) (string, ir.Snapshot, error) {
	paths, err := ListSnapshots(dir)
	if err != nil {
		return "", ir.Snapshot{}, err
	}
	if len(paths) == 0 {
		return "", ir.Snapshot{}, fmt.Errorf("no snapshots in %s", dir)
	}
	path := paths[len(paths)-1]
	snap, err := LoadSnapshot(path)
	return path, snap, err
}
