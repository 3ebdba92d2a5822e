package graph

import (
	"container/heap"

	"github.com/roach88/kiln/internal/ir"
)

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopoOrder returns every node id such that each dependency precedes its
// dependents. Among nodes that are ready at the same time the one added
// first wins.
//
// If the graph has a cycle no partial order is returned; the error is a
// *GraphError of kind ErrCycle naming one cycle.
func (g *Graph) TopoOrder() ([]ir.NodeID, error) {
	indeg := make([]int, len(g.order))
	for i, id := range g.order {
		indeg[i] = len(g.deps[id])
	}

	ready := &intMinHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]ir.NodeID, 0, len(g.order))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		id := g.order[i]
		out = append(out, id)
		for dep := range g.dependents[id] {
			j := g.index[dep]
			indeg[j]--
			if indeg[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}

	if len(out) == len(g.order) {
		return out, nil
	}
	path := g.findCycle(indeg)
	names := make([]string, len(path))
	for i, id := range path {
		names[i] = g.nodes[id].Name
	}
	return nil, cycleError(path, names)
}

// findCycle walks dependency edges among the nodes Kahn's pass could not
// release (indeg > 0) and returns one closed path, first id repeated last.
// Every such node has an unreleased dependency, so the walk must revisit a
// node.
func (g *Graph) findCycle(indeg []int) []ir.NodeID {
	start := -1
	for i, d := range indeg {
		if d > 0 {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	seen := map[ir.NodeID]int{}
	var walk []ir.NodeID
	cur := g.order[start]
	for {
		if pos, ok := seen[cur]; ok {
			cycle := append([]ir.NodeID{}, walk[pos:]...)
			// walk follows dependencies backwards; flip to edge direction.
			for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
				cycle[i], cycle[j] = cycle[j], cycle[i]
			}
			return append(cycle, cycle[0])
		}
		seen[cur] = len(walk)
		walk = append(walk, cur)

		var next ir.NodeID
		for _, dep := range g.deps[cur].sorted() {
			if indeg[g.index[dep]] > 0 {
				next = dep
				break
			}
		}
		cur = next
	}
}
