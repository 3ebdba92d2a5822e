package digest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/roach88/kiln/internal/ir"
)

// Git records the repository HEAD. A tree without .git yields nothing.
// When .git is a file (a worktree or submodule), HEAD is read from the
// directory its "gitdir:" line points to.
type Git struct{}

func (Git) Name() string { return "git" }

func (Git) Digest(ctx context.Context, root string) ([]AssetRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gitDir, err := resolveGitDir(root)
	if err != nil {
		return nil, fmt.Errorf("git digestor: %w", err)
	}
	if gitDir == "" {
		return nil, nil
	}

	head, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("git digestor: %w", err)
	}

	return []AssetRecord{{
		Path:       ".git/HEAD",
		Digest:     ir.HashBytes(head),
		Kind:       KindGit,
		Provenance: ProvenanceGitHead,
		Trust:      ComputeTrust("git", len(head) > 0),
		Size:       int64(len(head)),
	}}, nil
}

const gitDirPrefix = "gitdir:"

// resolveGitDir returns the git directory of root, or "" when root has no
// .git entry or its gitlink does not name a directory.
func resolveGitDir(root string) (string, error) {
	dotGit := filepath.Join(root, ".git")
	info, err := os.Lstat(dotGit)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return dotGit, nil
	}
	if !info.Mode().IsRegular() {
		return "", nil
	}

	data, err := os.ReadFile(dotGit)
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	target, ok := strings.CutPrefix(strings.TrimSpace(line), gitDirPrefix)
	if !ok {
		return "", nil
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return "", nil
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	return target, nil
}
