package digest

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"golang.org/x/sync/errgroup"
)

// RunAll runs digestors over root concurrently and returns every record
// sorted by kind, then path. With no digestors given, All() is used. The
// first digestor error cancels the rest.
func RunAll(ctx context.Context, root string, digestors ...Digestor) ([]AssetRecord, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("digest root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("digest root %s is not a directory", root)
	}
	if len(digestors) == 0 {
		digestors = All()
	}

	results := make([][]AssetRecord, len(digestors))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range digestors {
		g.Go(func() error {
			recs, err := d.Digest(gctx, root)
			if err != nil {
				return err
			}
			slog.Debug("digestor finished", "digestor", d.Name(), "records", len(recs))
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []AssetRecord
	for _, recs := range results {
		all = append(all, recs...)
	}
	SortRecords(all)
	return all, nil
}

// SortRecords orders records by kind, then path.
func SortRecords(recs []AssetRecord) {
	slices.SortFunc(recs, func(a, b AssetRecord) int {
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
}
