package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/kiln/internal/cas"
	"github.com/roach88/kiln/internal/fsutil"
)

// NewCASCommand creates the cas command group.
func NewCASCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cas",
		Short: "Inspect and populate the content-addressed store",
	}

	cmd.AddCommand(newCASPutCommand(rootOpts))
	cmd.AddCommand(newCASGetCommand(rootOpts))
	cmd.AddCommand(newCASStatCommand(rootOpts))
	cmd.AddCommand(newCASVerifyCommand(rootOpts))

	return cmd
}

// PutResult lists the hashes of stored files, in argument order.
type PutResult struct {
	Hashes []PutEntry `json:"hashes"`
}

// PutEntry is one stored file.
type PutEntry struct {
	Source string `json:"source"`
	Hash   string `json:"hash"`
}

// WriteText prints sha256sum-style lines.
func (r PutResult) WriteText(w io.Writer) error {
	for _, e := range r.Hashes {
		if _, err := fmt.Fprintf(w, "%s  %s\n", e.Hash, e.Source); err != nil {
			return err
		}
	}
	return nil
}

func newCASPutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "put <file|->...",
		Short:         "Store files (or stdin) and print their hashes",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCAS(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}

			var result PutResult
			for _, src := range args {
				hash, err := putSource(store, src, cmd.InOrStdin())
				if err != nil {
					return WrapExitError(ExitCommandError, "put "+src, err)
				}
				result.Hashes = append(result.Hashes, PutEntry{Source: src, Hash: hash})
			}
			return newFormatter(rootOpts, cmd).Success(result)
		},
	}
}

func putSource(store *cas.Store, src string, stdin io.Reader) (string, error) {
	if src == "-" {
		return store.PutReader(stdin)
	}
	f, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return store.PutReader(f)
}

func newCASGetCommand(rootOpts *RootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:           "get <hash>",
		Short:         "Write an object to stdout or a file",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCAS(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			rc, err := store.Open(args[0])
			if err != nil {
				return casError(err)
			}
			defer rc.Close()

			if output == "" || output == "-" {
				_, err = io.Copy(cmd.OutOrStdout(), rc)
				return err
			}
			tmp, _, err := fsutil.CopyToTemp(filepath.Dir(output), ".kiln-get-*", rc)
			if err != nil {
				return WrapExitError(ExitFailure, "write "+output, err)
			}
			defer tmp.Discard()
			return tmp.CommitRename(output, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

// StatResult wraps cas.Stat for text output.
type StatResult struct {
	cas.Stat
}

// WriteText prints one field per line.
func (r StatResult) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "hash:\t%s\n", r.Hash)
	fmt.Fprintf(tw, "path:\t%s\n", r.Path)
	fmt.Fprintf(tw, "size:\t%d\n", r.Size)
	fmt.Fprintf(tw, "created:\t%s\n", r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	return tw.Flush()
}

func newCASStatCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stat <hash>",
		Short:         "Describe a stored object",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCAS(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			st, err := store.Stat(args[0])
			if err != nil {
				return casError(err)
			}
			return newFormatter(rootOpts, cmd).Success(StatResult{st})
		},
	}
}

// VerifyResult reports a verification pass.
type VerifyResult struct {
	Checked int      `json:"checked"`
	Corrupt []string `json:"corrupt"`
}

// WriteText prints the corrupt hashes, then a count.
func (r VerifyResult) WriteText(w io.Writer) error {
	for _, h := range r.Corrupt {
		fmt.Fprintf(w, "CORRUPT %s\n", h)
	}
	_, err := fmt.Fprintf(w, "%d objects checked, %d corrupt\n", r.Checked, len(r.Corrupt))
	return err
}

func newCASVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [hash...]",
		Short: "Re-hash stored objects (all of them with no arguments)",
		Long: `Re-hash stored objects and report any whose bytes no longer match
their name. Exits 1 if corruption is found.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCAS(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}

			hashes := args
			if len(hashes) == 0 {
				if err := store.Walk(func(h string) error {
					hashes = append(hashes, h)
					return nil
				}); err != nil {
					return WrapExitError(ExitCommandError, "walk store", err)
				}
			}

			result := VerifyResult{Corrupt: []string{}}
			for _, h := range hashes {
				result.Checked++
				err := store.Verify(h)
				switch {
				case err == nil:
				case errors.Is(err, cas.ErrCorrupt):
					result.Corrupt = append(result.Corrupt, h)
				default:
					return casError(err)
				}
			}

			if err := newFormatter(rootOpts, cmd).Success(result); err != nil {
				return err
			}
			if len(result.Corrupt) > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d corrupt objects", len(result.Corrupt)))
			}
			return nil
		},
	}
}

// casError maps store errors to exit codes.
func casError(err error) error {
	switch {
	case errors.Is(err, cas.ErrNotFound), errors.Is(err, cas.ErrInvalidHash):
		return WrapExitError(ExitCommandError, "no such object", err)
	case errors.Is(err, cas.ErrCorrupt):
		return WrapExitError(ExitFailure, "corrupt object", err)
	default:
		return WrapExitError(ExitFailure, "store error", err)
	}
}
