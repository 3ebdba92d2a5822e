// Package cas is a content-addressed blob store on the local filesystem.
//
// Objects live at <root>/<hash[0:2]>/<hash[2:]> where hash is the
// lowercase hex SHA-256 of the object bytes. There are no sidecar files;
// size and creation time come from the filesystem.
//
// Writes are dedup-checked and then published with an atomic rename, so
// any number of processes may write the same root concurrently and no
// reader ever observes a partial object.
package cas

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/kiln/internal/fsutil"
	"github.com/roach88/kiln/internal/ir"
)

// EnvRoot names the environment variable consulted by FromEnvOrDefault.
const EnvRoot = "KILN_CAS_ROOT"

// DefaultRoot is used when EnvRoot is unset.
const DefaultRoot = ".kiln/cas"

var (
	ErrNotFound    = errors.New("object not found")
	ErrInvalidHash = errors.New("invalid content hash")
	ErrCorrupt     = errors.New("object content does not match its hash")
)

// Stat describes a stored object.
type Stat struct {
	Hash      string    `json:"hash"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a CAS rooted at one directory.
type Store struct {
	root string
}

// New opens the store at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("cas root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cas root: %w", err)
	}
	return &Store{root: root}, nil
}

// FromEnvOrDefault opens the store named by KILN_CAS_ROOT, or DefaultRoot.
func FromEnvOrDefault() (*Store, error) {
	root := os.Getenv(EnvRoot)
	if root == "" {
		root = DefaultRoot
	}
	return New(root)
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Path returns where hash is (or would be) stored. hash is not validated.
func (s *Store) Path(hash string) string {
	if len(hash) < 3 {
		return filepath.Join(s.root, hash)
	}
	return filepath.Join(s.root, hash[:2], hash[2:])
}

func (s *Store) objectPath(hash string) (string, error) {
	if !ir.IsHash(hash) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return s.Path(hash), nil
}

// PutBytes stores data and returns its hash. Storing bytes that already
// exist is a no-op.
func (s *Store) PutBytes(data []byte) (string, error) {
	hash := ir.HashBytes(data)
	path := s.Path(hash)
	if fileExists(path) {
		return hash, nil
	}

	tmp, err := fsutil.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", fmt.Errorf("cas put %s: %w", hash, err)
	}
	defer tmp.Discard()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("cas put %s: %w", hash, err)
	}
	if err := tmp.CommitRename(path, 0o444); err != nil {
		return "", fmt.Errorf("cas put %s: %w", hash, err)
	}
	slog.Debug("cas object stored", "hash", hash, "size", len(data))
	return hash, nil
}

// PutReader streams r into the store. The content is hashed while it is
// copied to a temp file, so memory use does not grow with the input.
func (s *Store) PutReader(r io.Reader) (string, error) {
	incoming := filepath.Join(s.root, ".incoming")
	h := newHashingReader(r)

	tmp, n, err := fsutil.CopyToTemp(incoming, "put-*", h)
	if err != nil {
		return "", fmt.Errorf("cas put stream: %w", err)
	}
	defer tmp.Discard()

	hash := h.Sum()
	path := s.Path(hash)
	if fileExists(path) {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("cas put %s: %w", hash, err)
	}
	if err := tmp.CommitRename(path, 0o444); err != nil {
		return "", fmt.Errorf("cas put %s: %w", hash, err)
	}
	slog.Debug("cas object stored", "hash", hash, "size", n)
	return hash, nil
}

// Exists reports whether hash is stored. Malformed hashes are never stored.
func (s *Store) Exists(hash string) bool {
	path, err := s.objectPath(hash)
	if err != nil {
		return false
	}
	return fileExists(path)
}

// Get returns the bytes of hash.
func (s *Store) Get(hash string) ([]byte, error) {
	path, err := s.objectPath(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("cas get %s: %w", hash, err)
	}
	return data, nil
}

// Open returns a reader over hash for large objects.
func (s *Store) Open(hash string) (io.ReadCloser, error) {
	path, err := s.objectPath(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("cas open %s: %w", hash, err)
	}
	return f, nil
}

// Stat describes hash.
func (s *Store) Stat(hash string) (Stat, error) {
	path, err := s.objectPath(hash)
	if err != nil {
		return Stat{}, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Stat{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return Stat{}, fmt.Errorf("cas stat %s: %w", hash, err)
	}
	return Stat{
		Hash:      hash,
		Path:      path,
		Size:      info.Size(),
		CreatedAt: info.ModTime().UTC(),
	}, nil
}

// Verify re-hashes the stored bytes of hash and returns ErrCorrupt if
// they no longer match.
func (s *Store) Verify(hash string) error {
	rc, err := s.Open(hash)
	if err != nil {
		return err
	}
	defer rc.Close()

	got, _, err := ir.HashReader(rc)
	if err != nil {
		return fmt.Errorf("cas verify %s: %w", hash, err)
	}
	if got != hash {
		return fmt.Errorf("%w: %s hashes to %s", ErrCorrupt, hash, got)
	}
	return nil
}

// Walk calls fn for every stored object in lexical hash order. Returning
// an error from fn stops the walk.
func (s *Store) Walk(fn func(hash string) error) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(s.root, path)
		if d.IsDir() {
			if rel != "." && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		hash := strings.ReplaceAll(filepath.ToSlash(rel), "/", "")
		if !ir.IsHash(hash) {
			return nil
		}
		return fn(hash)
	})
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
