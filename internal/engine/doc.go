// Package engine executes a graph.Graph one node at a time in topological
// order.
//
// Each node's inputs are its declared external artifacts plus the outputs
// of its dependencies. The content-sensitive cache key of the resulting
// NodeState decides whether the node's stage runs: a hit reuses the cached
// outputs and has no side effects; a miss runs the stage and caches the
// outputs only if it succeeded.
//
// After every node has been processed a Snapshot is written to the
// checkpoint directory. A failed run writes no snapshot.
//
// Nodes never run concurrently within one Run, even when independent.
// The cache lookup, stage execution and insert for a given key happen
// under a single-flight guard so that concurrent Run calls sharing a
// cache never execute the same key twice.
package engine
