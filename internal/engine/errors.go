package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/kiln/internal/ir"
)

// ExecutionError reports that a node's stage failed. Nothing from the failed
// node is cached and no snapshot is written. Unlike graph structure errors,
// an execution error may succeed on retry.
type ExecutionError struct {
	Node ir.NodeID
	Name string
	Kind ir.NodeKind
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s, %s) failed: %v", e.Name, e.Kind, e.Node, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IsExecutionError reports whether err is a stage failure.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// ErrNodeTimeout is wrapped by ExecutionError when a stage exceeds the
// per-node timeout.
var ErrNodeTimeout = errors.New("node timed out")
