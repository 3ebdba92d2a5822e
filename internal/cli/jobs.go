package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kiln/internal/orchestrator"
	"github.com/roach88/kiln/internal/store"
)

// JobsOptions holds flags for the jobs command.
type JobsOptions struct {
	*RootOptions
	Database string
	State    string
}

// JobList is the jobs command's output.
type JobList struct {
	Jobs []store.Job `json:"jobs"`
}

// WriteText renders one line per job.
func (l JobList) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tNAME\tSTATE\tATTEMPTS\tENQUEUED\tERROR\n")
	for _, j := range l.Jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			j.ID, j.Name, j.State, j.Attempts, j.EnqueuedAt.Format(time.RFC3339), j.LastError)
	}
	return tw.Flush()
}

// JobDetail is one job with its transitions and snapshots.
type JobDetail struct {
	Job       store.Job            `json:"job"`
	Events    []orchestrator.Event `json:"events"`
	Snapshots []store.Snapshot     `json:"snapshots"`
}

// WriteText renders the job header, then its event log.
func (d JobDetail) WriteText(w io.Writer) error {
	j := d.Job
	fmt.Fprintf(w, "job %s (%s)\n", j.Name, j.ID)
	fmt.Fprintf(w, "state %s after %d attempts (retries %d, backoff %s)\n", j.State, j.Attempts, j.Retries, j.Backoff)
	fmt.Fprintf(w, "checkpoint %s\n", j.Checkpoint)
	if j.LastError != "" {
		fmt.Fprintf(w, "last error: %s\n", j.LastError)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "\nSEQ\tFROM\tTO\tATTEMPT\tAT\tERROR\n")
	for _, ev := range d.Events {
		from := string(ev.From)
		if from == "" {
			from = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n", ev.Seq, from, ev.To, ev.Attempt, ev.At.Format(time.RFC3339), ev.Err)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, s := range d.Snapshots {
		fmt.Fprintf(w, "snapshot %s (%d nodes, %d hits)\n", s.Path, s.Nodes, s.CacheHits)
	}
	return nil
}

// NewJobsCommand creates the jobs command.
func NewJobsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JobsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "jobs [job-id]",
		Short: "List recorded jobs, or show one job's history",
		Long: `List the jobs recorded in the ledger. Given a job id, print the job's
state transitions and snapshots.

Example:
  kiln jobs --db kiln.db --state failed
  kiln jobs --db kiln.db 0b6c6c1e-...`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Database == "" {
				return NewExitError(ExitCommandError, "jobs needs --db or $KILN_DB")
			}
			if len(args) == 1 {
				return showJob(opts, args[0], cmd)
			}
			return listJobs(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", defaultDB(), "ledger database ($KILN_DB)")
	cmd.Flags().StringVar(&opts.State, "state", "", "only jobs in this state")

	return cmd
}

func listJobs(opts *JobsOptions, cmd *cobra.Command) error {
	st, err := openLedger(opts.Database)
	if err != nil {
		return err
	}
	defer closeLedger(st)

	jobs, err := st.Jobs(cmd.Context(), orchestrator.JobState(opts.State))
	if err != nil {
		return WrapExitError(ExitFailure, "list jobs", err)
	}
	return newFormatter(opts.RootOptions, cmd).Success(JobList{Jobs: jobs})
}

func showJob(opts *JobsOptions, id string, cmd *cobra.Command) error {
	st, err := openLedger(opts.Database)
	if err != nil {
		return err
	}
	defer closeLedger(st)

	ctx := cmd.Context()
	job, err := st.Job(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, "no such job", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "read job", err)
	}
	events, err := st.Events(ctx, id)
	if err != nil {
		return WrapExitError(ExitFailure, "read events", err)
	}
	snaps, err := st.Snapshots(ctx, id)
	if err != nil {
		return WrapExitError(ExitFailure, "read snapshots", err)
	}
	return newFormatter(opts.RootOptions, cmd).Success(JobDetail{Job: job, Events: events, Snapshots: snaps})
}
