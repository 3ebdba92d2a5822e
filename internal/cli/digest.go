package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kiln/internal/cas"
	"github.com/roach88/kiln/internal/digest"
)

// DigestOptions holds flags for the digest command.
type DigestOptions struct {
	*RootOptions
	Digestors []string
	Store     bool
	Database  string
}

// DigestResult is the digest command's output.
type DigestResult struct {
	digest.Report
	RunID  int64 `json:"run_id,omitempty"`
	Stored int   `json:"stored,omitempty"`
}

// WriteText renders the report table.
func (r DigestResult) WriteText(w io.Writer) error {
	if err := r.Report.WriteText(w); err != nil {
		return err
	}
	if r.Stored > 0 {
		fmt.Fprintf(w, "stored %d blobs\n", r.Stored)
	}
	if r.RunID > 0 {
		fmt.Fprintf(w, "recorded as digest run %d\n", r.RunID)
	}
	return nil
}

// NewDigestCommand creates the digest command.
func NewDigestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DigestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "digest <root>",
		Short: "Scan a source tree for trust-scored evidence",
		Long: `Scan a source tree with the built-in digestors (git, config, api, sbom,
binary) and print one record per asset found.

Example:
  kiln digest ./drop
  kiln digest ./drop --store --db kiln.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Digestors, "digestors", nil, "digestors to run (default all)")
	cmd.Flags().BoolVar(&opts.Store, "store", false, "copy every asset into the content-addressed store")
	cmd.Flags().StringVar(&opts.Database, "db", defaultDB(), "record the run in this ledger ($KILN_DB)")

	return cmd
}

func runDigest(opts *DigestOptions, root string, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	digestors, err := digest.ByName(opts.Digestors...)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --digestors", err)
	}

	records, err := digest.RunAll(ctx, root, digestors...)
	if err != nil {
		return WrapExitError(ExitCommandError, "digest failed", err)
	}
	result := DigestResult{Report: digest.NewReport(root, records)}
	slog.Info("digest complete", "root", root, "assets", len(records))

	if opts.Store {
		store, err := openCAS(opts.RootOptions)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open store", err)
		}
		n, err := storeAssets(store, root, records)
		if err != nil {
			return WrapExitError(ExitFailure, "store assets", err)
		}
		result.Stored = n
	}

	if opts.Database != "" {
		st, err := openLedger(opts.Database)
		if err != nil {
			return err
		}
		defer closeLedger(st)

		runID, err := st.RecordDigest(ctx, result.Report, time.Now())
		if err != nil {
			return WrapExitError(ExitFailure, "record digest", err)
		}
		result.RunID = runID
	}

	return newFormatter(opts.RootOptions, cmd).Success(result)
}

// storeAssets streams each asset into store and checks the stored hash
// against the digest.
func storeAssets(store *cas.Store, root string, records []digest.AssetRecord) (int, error) {
	stored := 0
	for _, rec := range records {
		f, err := os.Open(filepath.Join(root, filepath.FromSlash(rec.Path)))
		if err != nil {
			return stored, err
		}
		hash, err := store.PutReader(f)
		f.Close()
		if err != nil {
			return stored, fmt.Errorf("%s: %w", rec.Path, err)
		}
		if hash != rec.Digest {
			return stored, fmt.Errorf("%s changed during digest: %s != %s", rec.Path, hash, rec.Digest)
		}
		stored++
		slog.Debug("asset stored", "path", rec.Path, "hash", hash)
	}
	return stored, nil
}
