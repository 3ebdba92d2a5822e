package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/kiln/internal/ir"
)

// Structural error kinds. Re-running an unchanged graph cannot fix any of
// them, so callers must not retry.
var (
	ErrMissingNode   = errors.New("missing node")
	ErrCycle         = errors.New("cycle detected")
	ErrDuplicateNode = errors.New("duplicate node")
)

// InputSeparator joins a dependency's name and output key in the input
// names the engine derives, as in "scan/stdout". External input names must
// not contain it.
const InputSeparator = "/"

// ErrReservedInput rejects an external input name that is empty or could
// collide with a dependency output.
var ErrReservedInput = errors.New("reserved input name")

// GraphError is a structural failure tied to specific nodes.
type GraphError struct {
	Kind  error
	Msg   string
	Nodes []ir.NodeID
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

// IsStructural reports whether err is a graph structure error anywhere in
// its chain.
func IsStructural(err error) bool {
	var ge *GraphError
	return errors.As(err, &ge)
}

// IsCycleError reports whether err is a cycle error.
func IsCycleError(err error) bool {
	return errors.Is(err, ErrCycle)
}

func missingNodeError(ids ...ir.NodeID) error {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return &GraphError{Kind: ErrMissingNode, Msg: strings.Join(parts, ", "), Nodes: ids}
}

func cycleError(path []ir.NodeID, names []string) error {
	msg := "cycle"
	if len(names) > 0 {
		msg = "cycle: " + strings.Join(names, " -> ")
	}
	return &GraphError{Kind: ErrCycle, Msg: msg, Nodes: path}
}
