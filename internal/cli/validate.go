package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/kiln/internal/graph"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool          `json:"valid"`
	Plans  []PlanSummary `json:"plans,omitempty"`
	Errors []PlanError   `json:"errors,omitempty"`
}

// PlanSummary describes a plan that loaded and sorted cleanly.
type PlanSummary struct {
	Path        string   `json:"path"`
	Name        string   `json:"name"`
	Nodes       int      `json:"nodes"`
	Edges       int      `json:"edges"`
	Order       []string `json:"order"`
	Fingerprint string   `json:"fingerprint"`
}

// PlanError is one plan file that failed validation.
type PlanError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// WriteText prints one line per plan.
func (r ValidationResult) WriteText(w io.Writer) error {
	for _, p := range r.Plans {
		fmt.Fprintf(w, "ok   %s: %s (%d nodes, %d edges) %v\n", p.Path, p.Name, p.Nodes, p.Edges, p.Order)
	}
	for _, e := range r.Errors {
		loc := e.Path
		if e.Line > 0 {
			loc = fmt.Sprintf("%s:%d", e.Path, e.Line)
		}
		fmt.Fprintf(w, "FAIL %s: [%s] %s\n", loc, e.Code, e.Message)
	}
	return nil
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan-file...>",
		Short: "Check plan files without running them",
		Long: `Parse and validate plan files, then check that each graph can be
ordered (no cycles, no dangling edges). Nothing is executed.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	result := ValidationResult{Valid: true}
	for _, path := range paths {
		summary, err := validatePlan(path)
		if err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, planError(path, err))
			continue
		}
		result.Plans = append(result.Plans, summary)
	}

	if err := newFormatter(opts, cmd).Success(result); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d plans invalid", len(result.Errors), len(paths)))
	}
	return nil
}

func validatePlan(path string) (PlanSummary, error) {
	plan, err := LoadPlan(path)
	if err != nil {
		return PlanSummary{}, err
	}
	order, err := plan.Graph.TopoOrder()
	if err != nil {
		return PlanSummary{}, err
	}
	fp, err := plan.Graph.Fingerprint()
	if err != nil {
		return PlanSummary{}, err
	}

	names := make([]string, len(order))
	for i, id := range order {
		n, _ := plan.Graph.Node(id)
		names[i] = n.Name
	}
	return PlanSummary{
		Path:        path,
		Name:        plan.Name,
		Nodes:       plan.Graph.Len(),
		Edges:       plan.Graph.EdgeCount(),
		Order:       names,
		Fingerprint: fp,
	}, nil
}

func planError(path string, err error) PlanError {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		pe := PlanError{Path: path, Code: loadErr.Code, Message: loadErr.Message}
		if loadErr.Pos.IsValid() {
			pe.Line = loadErr.Pos.Line()
		}
		return pe
	}
	code := ErrCodeGeneric
	if graph.IsStructural(err) {
		code = ErrCodeInvalidPlan
	}
	return PlanError{Path: path, Code: code, Message: err.Error()}
}
