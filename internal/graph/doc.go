// Package graph holds the pipeline DAG: typed nodes kept in an arena keyed
// by NodeID, with dependency edges stored as id sets.
//
// Acyclicity is not checked when edges are added. It is verified by
// TopoOrder, which the engine calls before every run.
//
// A Graph is not safe for concurrent mutation. The orchestrator hands each
// attempt its own Clone.
package graph
