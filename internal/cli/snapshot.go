package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kiln/internal/engine"
	"github.com/roach88/kiln/internal/ir"
)

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Read run snapshots from a checkpoint directory",
	}
	cmd.AddCommand(newSnapshotShowCommand(rootOpts))
	cmd.AddCommand(newSnapshotListCommand(rootOpts))
	return cmd
}

// SnapshotView is a loaded snapshot and where it came from.
type SnapshotView struct {
	Path     string      `json:"path"`
	Snapshot ir.Snapshot `json:"snapshot"`
}

// WriteText renders one line per node.
func (v SnapshotView) WriteText(w io.Writer) error {
	s := v.Snapshot
	fmt.Fprintf(w, "%s\n", v.Path)
	fmt.Fprintf(w, "version %s, captured %s, %q\n", s.Version, s.CapturedAt.Format(time.RFC3339), s.Description)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "\nNODE\tKIND\tLANE\tOUTPUTS\tCACHE KEY\n")
	for _, n := range s.Nodes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", n.ID, n.Kind, n.Lane, len(n.IO.Outputs), n.CacheKey[:min(12, len(n.CacheKey))])
	}
	return tw.Flush()
}

func newSnapshotShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <checkpoint-dir|snapshot-file>",
		Short:         "Print a snapshot (the latest one for a directory)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := loadSnapshotView(args[0])
			if err != nil {
				return err
			}
			return newFormatter(rootOpts, cmd).Success(view)
		},
	}
}

func loadSnapshotView(target string) (SnapshotView, error) {
	info, err := os.Stat(target)
	if err != nil {
		return SnapshotView{}, WrapExitError(ExitCommandError, "no such snapshot", err)
	}
	if !info.IsDir() {
		snap, err := engine.LoadSnapshot(target)
		if err != nil {
			return SnapshotView{}, WrapExitError(ExitCommandError, "invalid snapshot", err)
		}
		return SnapshotView{Path: target, Snapshot: snap}, nil
	}

	path, snap, err := engine.LatestSnapshot(target)
	if err != nil {
		return SnapshotView{}, WrapExitError(ExitCommandError, "read snapshot", err)
	}
	return SnapshotView{Path: path, Snapshot: snap}, nil
}

// SnapshotList is the snapshot list output, oldest first.
type SnapshotList struct {
	Snapshots []string `json:"snapshots"`
}

// WriteText prints one file name per line.
func (l SnapshotList) WriteText(w io.Writer) error {
	for _, p := range l.Snapshots {
		if _, err := fmt.Fprintln(w, filepath.Base(p)); err != nil {
			return err
		}
	}
	return nil
}

func newSnapshotListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list <checkpoint-dir>",
		Short:         "List snapshot files, oldest first",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := engine.ListSnapshots(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "list snapshots", err)
			}
			if paths == nil {
				paths = []string{}
			}
			return newFormatter(rootOpts, cmd).Success(SnapshotList{Snapshots: paths})
		},
	}
}
