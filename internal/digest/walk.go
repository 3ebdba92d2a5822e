package digest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/roach88/kiln/internal/ir"
)

// walkFiles calls fn for every regular file under root. .git directories
// are skipped and symlinks are never followed. rel is slash-separated.
func walkFiles(ctx context.Context, root string, fn func(rel, path string, info fs.FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), path, info)
	})
}

// hashFile returns the content hash of path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hash, _, err := ir.HashReader(f)
	return hash, err
}
