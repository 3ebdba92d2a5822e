package digest

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/roach88/kiln/internal/ir"
)

// Report is the serialized form of a digest run.
type Report struct {
	Root   string            `json:"root"`
	Assets []AssetRecord     `json:"assets"`
	Counts map[AssetKind]int `json:"counts"`
}

// NewReport builds a report over records. root is recorded as given.
func NewReport(root string, records []AssetRecord) Report {
	if records == nil {
		records = []AssetRecord{}
	}
	counts := make(map[AssetKind]int)
	for _, r := range records {
		counts[r.Kind]++
	}
	return Report{Root: root, Assets: records, Counts: counts}
}

// JSON renders the report as indented JSON with a trailing newline.
func (r Report) JSON() ([]byte, error) {
	return ir.MarshalJSONIndent(r)
}

// WriteText renders the report as an aligned table followed by per-kind
// counts.
func (r Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "KIND\tPATH\tTRUST\tDIGEST\n")
	for _, a := range r.Assets {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", a.Kind, a.Path, a.Trust, a.Digest[:12])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d assets in %s\n", len(r.Assets), r.Root)
	for _, k := range slices.Sorted(maps.Keys(r.Counts)) {
		fmt.Fprintf(w, "  %-8s %d\n", k, r.Counts[k])
	}
	return nil
}
