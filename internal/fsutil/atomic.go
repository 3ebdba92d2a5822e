// Package fsutil holds the crash-safe file writes shared by the CAS and
// the snapshot writer: write to a temp file in the destination directory,
// fsync, then publish with a single rename or link.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// TempFile is an open temp file that is removed unless Commit succeeds.
type TempFile struct {
	*os.File
	committed bool
}

// CreateTemp opens a temp file in dir, creating dir if needed.
func CreateTemp(dir, pattern string) (*TempFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	return &TempFile{File: f}, nil
}

// Discard closes and removes the temp file if it was not committed.
// Safe to defer.
func (t *TempFile) Discard() {
	_ = t.File.Close()
	if !t.committed {
		_ = os.Remove(t.Name())
	}
}

func (t *TempFile) flush(perm os.FileMode) error {
	if err := t.Chmod(perm); err != nil {
		return err
	}
	if err := t.Sync(); err != nil {
		return err
	}
	return t.File.Close()
}

// CommitRename fsyncs the temp file and renames it over path.
func (t *TempFile) CommitRename(path string, perm os.FileMode) error {
	if err := t.flush(perm); err != nil {
		return err
	}
	if err := os.Rename(t.Name(), path); err != nil {
		return err
	}
	t.committed = true
	return SyncDir(filepath.Dir(path))
}

// CommitNew fsyncs the temp file and publishes it at path only if path
// does not exist yet. The returned error satisfies errors.Is(err,
// os.ErrExist) when it does.
func (t *TempFile) CommitNew(path string, perm os.FileMode) error {
	if err := t.flush(perm); err != nil {
		return err
	}
	if err := os.Link(t.Name(), path); err != nil {
		return err
	}
	_ = os.Remove(t.Name())
	t.committed = true
	return SyncDir(filepath.Dir(path))
}

// WriteFileAtomic replaces path with data. Readers see either the old
// content or the new content, never a mix.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	defer tmp.Discard()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	return tmp.CommitRename(path, perm)
}

// WriteFileNew is WriteFileAtomic that refuses to overwrite.
func WriteFileNew(path string, data []byte, perm os.FileMode) error {
	tmp, err := CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	defer tmp.Discard()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	return tmp.CommitNew(path, perm)
}

// CopyToTemp streams r into a new temp file in dir. The caller owns the
// returned file and must Commit or Discard it.
func CopyToTemp(dir, pattern string, r io.Reader) (*TempFile, int64, error) {
	tmp, err := CreateTemp(dir, pattern)
	if err != nil {
		return nil, 0, err
	}
	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Discard()
		return nil, n, fmt.Errorf("copy to temp: %w", err)
	}
	return tmp, n, nil
}

// SyncDir fsyncs a directory so a rename inside it is durable.
func SyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}
