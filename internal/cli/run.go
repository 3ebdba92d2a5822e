package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/kiln/internal/cache"
	"github.com/roach88/kiln/internal/engine"
	"github.com/roach88/kiln/internal/orchestrator"
)

var errJobsFailed = errors.New("failed")

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Simple         string
	Checkpoint     string
	Database       string
	MetricsAddr    string
	Trace          string
	CacheDir       string
	NodeTimeout    time.Duration
	StoreArtifacts bool

	// Sleep overrides the retry backoff (for testing).
	Sleep orchestrator.SleepFunc
}

// JobResult is the outcome of one job.
type JobResult struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	State       orchestrator.JobState `json:"state"`
	Attempts    int                   `json:"attempts"`
	LastError   string                `json:"last_error,omitempty"`
	Snapshot    string                `json:"snapshot,omitempty"`
	CacheHits   int                   `json:"cache_hits"`
	CacheMisses int                   `json:"cache_misses"`
}

// RunResult is the run command's output.
type RunResult struct {
	Jobs []JobResult `json:"jobs"`
}

// WriteText renders one line per job.
func (r RunResult) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "JOB\tSTATE\tATTEMPTS\tHITS\tMISSES\tSNAPSHOT\n")
	for _, j := range r.Jobs {
		snap := j.Snapshot
		if snap == "" {
			snap = j.LastError
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", j.Name, j.State, j.Attempts, j.CacheHits, j.CacheMisses, snap)
	}
	return tw.Flush()
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [plan-file...]",
		Short: "Run pipeline jobs to completion",
		Long: `Enqueue one job per plan file (.cue, .yaml, .yml or .json) and run them
in order with retries. With --simple, run the built-in
analyze -> decide -> persist job instead.

Example:
  kiln run pipeline.cue
  kiln run --simple demo --checkpoint ./out --db kiln.db
  kiln run jobs/*.yaml --metrics-addr :9090
  kiln run pipeline.cue --trace spans.jsonl`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Simple == "" && len(args) == 0 {
				return NewExitError(ExitCommandError, "run needs a plan file or --simple")
			}
			return runJobs(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Simple, "simple", "", "run the built-in three-node job under this name")
	cmd.Flags().StringVar(&opts.Checkpoint, "checkpoint", "", "checkpoint directory for --simple (default .kiln/checkpoints/<name>)")
	cmd.Flags().StringVar(&opts.Database, "db", defaultDB(), "record jobs in this ledger ($KILN_DB)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	cmd.Flags().StringVar(&opts.Trace, "trace", "", "write engine spans as JSON lines to this file (- for stderr)")
	cmd.Flags().StringVar(&opts.CacheDir, "cache-dir", "", "persist the node cache in a Badger database here")
	cmd.Flags().DurationVar(&opts.NodeTimeout, "node-timeout", 0, "per-node execution limit (0 disables)")
	cmd.Flags().BoolVar(&opts.StoreArtifacts, "store-artifacts", false, "write every stage output into the content-addressed store")

	return cmd
}

func runJobs(opts *RunOptions, planFiles []string, cmd *cobra.Command) error {
	plans, err := collectPlans(opts, planFiles)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	reg := prometheus.NewRegistry()
	orchOpts := []orchestrator.Option{
		orchestrator.WithMetrics(reg),
		orchestrator.WithObserver(logEvent),
	}
	if opts.Sleep != nil {
		orchOpts = append(orchOpts, orchestrator.WithSleep(opts.Sleep))
	}

	tel, err := setupTelemetry(reg, opts.Trace, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up telemetry", err)
	}
	defer tel.close(context.Background())

	engOpts := append([]engine.Option{engine.WithNodeTimeout(opts.NodeTimeout)}, tel.options...)
	if opts.StoreArtifacts {
		store, err := openCAS(opts.RootOptions)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open store", err)
		}
		engOpts = append(engOpts, engine.WithArtifactStore(store))
	}
	orchOpts = append(orchOpts, orchestrator.WithEngineOptions(engOpts...))

	if opts.CacheDir != "" {
		bc, err := cache.OpenBadger(cache.DefaultConfig(opts.CacheDir))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open cache", err)
		}
		defer func() {
			if err := bc.Close(); err != nil {
				slog.Error("error closing cache", "error", err)
			}
		}()
		orchOpts = append(orchOpts, orchestrator.WithCache(bc))
	}

	if opts.Database != "" {
		st, err := openLedger(opts.Database)
		if err != nil {
			return err
		}
		defer closeLedger(st)

		seq, err := st.LastSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "read ledger", err)
		}
		orchOpts = append(orchOpts, orchestrator.WithRecorder(st), orchestrator.WithClock(orchestrator.NewClockAt(seq)))
	}

	if opts.MetricsAddr != "" {
		stop, err := serveMetrics(opts.MetricsAddr, reg)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start metrics endpoint", err)
		}
		defer stop()
	}

	orch := orchestrator.New(orchOpts...)
	for _, plan := range plans {
		if _, err := orch.Enqueue(ctx, plan); err != nil {
			return WrapExitError(ExitCommandError, "invalid job", err)
		}
	}

	records, runErr := orch.Drain(ctx)

	result := RunResult{Jobs: make([]JobResult, 0, len(records))}
	failed := 0
	for _, rec := range records {
		result.Jobs = append(result.Jobs, jobResult(rec))
		if rec.State == orchestrator.StateFailed {
			failed++
		}
	}

	out := newFormatter(opts.RootOptions, cmd)
	if err := out.Success(result); err != nil {
		return err
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return WrapExitError(ExitFailure, "interrupted", runErr)
		}
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
	if failed > 0 {
		return WrapExitError(ExitFailure, fmt.Sprintf("%d of %d jobs", failed, len(records)), errJobsFailed)
	}
	return nil
}

func collectPlans(opts *RunOptions, planFiles []string) ([]orchestrator.JobPlan, error) {
	var plans []orchestrator.JobPlan
	if opts.Simple != "" {
		checkpoint := opts.Checkpoint
		if checkpoint == "" {
			checkpoint = filepath.Join(".kiln", "checkpoints", opts.Simple)
		}
		plans = append(plans, orchestrator.Simple(opts.Simple, checkpoint))
	}
	for _, path := range planFiles {
		plan, err := LoadPlan(path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load plan", err)
		}
		slog.Debug("plan loaded", "path", path, "job", plan.Name, "nodes", plan.Graph.Len())
		plans = append(plans, plan)
	}
	return plans, nil
}

func jobResult(rec *orchestrator.JobRecord) JobResult {
	jr := JobResult{
		ID:        rec.ID,
		Name:      rec.Plan.Name,
		State:     rec.State,
		Attempts:  rec.Attempts,
		LastError: rec.LastError,
	}
	if rec.Summary != nil {
		jr.Snapshot = rec.Summary.Checkpoint
		jr.CacheHits = rec.Summary.CacheHits
		jr.CacheMisses = rec.Summary.CacheMisses
	}
	return jr
}

func logEvent(ev orchestrator.Event) {
	attrs := []any{"job", ev.Job, "seq", ev.Seq, "from", ev.From, "to", ev.To, "attempt", ev.Attempt}
	if ev.Err != "" {
		slog.Warn("job transition", append(attrs, "error", ev.Err)...)
		return
	}
	slog.Info("job transition", attrs...)
}

// serveMetrics exposes reg on addr until the returned stop is called.
func serveMetrics(addr string, reg *prometheus.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics endpoint stopped", "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("metrics endpoint shutdown", "error", err)
		}
	}, nil
}
