package graph

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/kiln/internal/ir"
)

type idSet map[ir.NodeID]struct{}

func (s idSet) sorted() []ir.NodeID {
	out := make([]ir.NodeID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.SortFunc(out, ir.NodeID.Compare)
	return out
}

// Graph is a DAG of GraphNodes. Edges point from a dependency to the node
// that depends on it.
type Graph struct {
	nodes      map[ir.NodeID]ir.GraphNode
	index      map[ir.NodeID]int // insertion position, used for tie-breaking
	order      []ir.NodeID
	deps       map[ir.NodeID]idSet // node -> nodes it depends on
	dependents map[ir.NodeID]idSet // node -> nodes that depend on it
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:      make(map[ir.NodeID]ir.GraphNode),
		index:      make(map[ir.NodeID]int),
		deps:       make(map[ir.NodeID]idSet),
		dependents: make(map[ir.NodeID]idSet),
	}
}

// AddNode registers n and returns its id. A zero ID is replaced with a
// fresh one. Re-adding an existing id with identical content is a no-op;
// different content under the same id returns ErrDuplicateNode.
func (g *Graph) AddNode(n ir.GraphNode) (ir.NodeID, error) {
	if !n.Kind.Valid() {
		return ir.NodeID{}, fmt.Errorf("add node %q: invalid kind %d", n.Name, n.Kind)
	}
	for name := range n.Inputs {
		if name == "" || strings.Contains(name, InputSeparator) {
			return ir.NodeID{}, fmt.Errorf("add node %q: %w: %q", n.Name, ErrReservedInput, name)
		}
	}
	if n.ID.IsZero() {
		n.ID = ir.NewNodeID()
	}
	if existing, ok := g.nodes[n.ID]; ok {
		if reflect.DeepEqual(existing, n) {
			return n.ID, nil
		}
		return ir.NodeID{}, &GraphError{
			Kind:  ErrDuplicateNode,
			Msg:   fmt.Sprintf("%s (%s)", n.ID, n.Name),
			Nodes: []ir.NodeID{n.ID},
		}
	}

	g.nodes[n.ID] = n.Clone()
	g.index[n.ID] = len(g.order)
	g.order = append(g.order, n.ID)
	g.deps[n.ID] = idSet{}
	g.dependents[n.ID] = idSet{}
	return n.ID, nil
}

// MustAddNode is AddNode for graphs built from literals; it panics on error.
func (g *Graph) MustAddNode(n ir.GraphNode) ir.NodeID {
	id, err := g.AddNode(n)
	if err != nil {
		panic(err)
	}
	return id
}

// AddEdge records from as a dependency of to. Both nodes must already be
// present; otherwise the graph is left untouched and ErrMissingNode is
// returned. Adding the same edge twice is harmless.
func (g *Graph) AddEdge(from, to ir.NodeID) error {
	var missing []ir.NodeID
	if _, ok := g.nodes[from]; !ok {
		missing = append(missing, from)
	}
	if _, ok := g.nodes[to]; !ok && to != from {
		missing = append(missing, to)
	}
	if len(missing) > 0 {
		return missingNodeError(missing...)
	}

	g.deps[to][from] = struct{}{}
	g.dependents[from][to] = struct{}{}
	return nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id ir.NodeID) (ir.GraphNode, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return ir.GraphNode{}, false
	}
	return n.Clone(), true
}

// Nodes returns a copy of every node in insertion order. Callers must not
// rely on this order for anything but display.
func (g *Graph) Nodes() []ir.GraphNode {
	out := make([]ir.GraphNode, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id].Clone())
	}
	return out
}

// Dependencies returns the ids id depends on, sorted by id bytes.
func (g *Graph) Dependencies(id ir.NodeID) []ir.NodeID {
	return g.deps[id].sorted()
}

// Dependents returns the ids that depend on id, sorted by id bytes.
func (g *Graph) Dependents(id ir.NodeID) []ir.NodeID {
	return g.dependents[id].sorted()
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.order) }

// EdgeCount returns the number of distinct edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, s := range g.deps {
		n += len(s)
	}
	return n
}

// ToStates projects every node to a NodeState for inspection. The cache key
// is derived from the node name only and is not the execution cache key.
func (g *Graph) ToStates() []ir.NodeState {
	out := make([]ir.NodeState, 0, len(g.order))
	for _, id := range g.order {
		n := g.nodes[id]
		out = append(out, ir.NodeState{
			ID:           id,
			Kind:         n.Kind,
			Lane:         n.Lane,
			Facets:       []ir.Facet{},
			IO:           ir.NodeIO{Inputs: map[string]ir.DataHandle{}, Outputs: map[string]ir.DataHandle{}},
			Dependencies: g.Dependencies(id),
			CacheKey:     ir.NameKey(n.Name),
		})
	}
	return out
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	c := New()
	for _, id := range g.order {
		c.nodes[id] = g.nodes[id].Clone()
		c.index[id] = g.index[id]
		c.order = append(c.order, id)
		c.deps[id] = make(idSet, len(g.deps[id]))
		for d := range g.deps[id] {
			c.deps[id][d] = struct{}{}
		}
		c.dependents[id] = make(idSet, len(g.dependents[id]))
		for d := range g.dependents[id] {
			c.dependents[id][d] = struct{}{}
		}
	}
	return c
}

// Fingerprint returns a hash of the graph's nodes and edges that does not
// depend on insertion order.
func (g *Graph) Fingerprint() (string, error) {
	ids := make([]ir.NodeID, len(g.order))
	copy(ids, g.order)
	slices.SortFunc(ids, ir.NodeID.Compare)

	nodes := make([]any, 0, len(ids))
	edges := make([]any, 0)
	for _, id := range ids {
		n := g.nodes[id]
		inputs := make(map[string]any, len(n.Inputs))
		for k, ref := range n.Inputs {
			inputs[k] = ref.Hash
		}
		nodes = append(nodes, map[string]any{
			"id":       id.String(),
			"name":     n.Name,
			"kind":     n.Kind.String(),
			"lane":     n.Lane.String(),
			"metadata": map[string]any(n.Metadata),
			"inputs":   inputs,
		})
		for _, dep := range g.deps[id].sorted() {
			edges = append(edges, []any{dep.String(), id.String()})
		}
	}

	fp, err := ir.Fingerprint(map[string]any{"nodes": nodes, "edges": edges})
	if err != nil {
		return "", fmt.Errorf("graph fingerprint: %w", err)
	}
	return fp, nil
}
