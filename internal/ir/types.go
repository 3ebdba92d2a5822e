package ir

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeKind classifies the stage a node performs.
// The numeric value is the tag byte used in cache keys; never reorder.
type NodeKind uint8

const (
	KindAnalyze NodeKind = iota
	KindDecide
	KindTransform
	KindVerify
	KindPersist
)

var nodeKindNames = [...]string{"analyze", "decide", "transform", "verify", "persist"}

// Tag returns the fixed tag byte used in hashing.
func (k NodeKind) Tag() byte { return byte(k) }

// Valid reports whether k is one of the five defined kinds.
func (k NodeKind) Valid() bool { return int(k) < len(nodeKindNames) }

func (k NodeKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return nodeKindNames[k]
}

// ParseNodeKind parses the lowercase kind name.
func ParseNodeKind(s string) (NodeKind, error) {
	for i, name := range nodeKindNames {
		if name == s {
			return NodeKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown node kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k NodeKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid node kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *NodeKind) UnmarshalText(b []byte) error {
	v, err := ParseNodeKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Lane is the execution-weight class of a node. It is carried through
// execution and hashed into cache keys but does not alter scheduling.
type Lane uint8

const (
	LaneFast Lane = iota
	LaneDeep
)

// Tag returns the fixed tag byte used in hashing.
func (l Lane) Tag() byte { return byte(l) }

func (l Lane) String() string {
	switch l {
	case LaneFast:
		return "fast"
	case LaneDeep:
		return "deep"
	default:
		return fmt.Sprintf("lane(%d)", uint8(l))
	}
}

// ParseLane parses "fast" or "deep". The empty string is LaneFast.
func ParseLane(s string) (Lane, error) {
	switch s {
	case "", "fast":
		return LaneFast, nil
	case "deep":
		return LaneDeep, nil
	default:
		return 0, fmt.Errorf("unknown lane %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Lane) MarshalText() ([]byte, error) {
	if l > LaneDeep {
		return nil, fmt.Errorf("invalid lane %d", uint8(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Lane) UnmarshalText(b []byte) error {
	v, err := ParseLane(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// FacetKind describes the role a piece of data plays in the pipeline.
type FacetKind string

const (
	FacetSource         FacetKind = "source"
	FacetAnalysis       FacetKind = "analysis"
	FacetDecision       FacetKind = "decision"
	FacetTransformation FacetKind = "transformation"
	FacetVerification   FacetKind = "verification"
	FacetPersistence    FacetKind = "persistence"
)

// FacetKindFor maps a node kind to the facet its outputs carry.
func FacetKindFor(k NodeKind) FacetKind {
	switch k {
	case KindAnalyze:
		return FacetAnalysis
	case KindDecide:
		return FacetDecision
	case KindTransform:
		return FacetTransformation
	case KindVerify:
		return FacetVerification
	case KindPersist:
		return FacetPersistence
	default:
		return FacetSource
	}
}

// DefaultTrust is the provenance trust score assigned to outputs of a
// node kind when the stage does not supply its own.
func DefaultTrust(k NodeKind) float64 {
	switch k {
	case KindAnalyze, KindVerify:
		return 0.9
	case KindDecide:
		return 0.8
	case KindTransform:
		return 0.7
	case KindPersist:
		return 1.0
	default:
		return 0
	}
}

// Facet is a typed annotation attached to a DataHandle.
type Facet struct {
	Kind     FacetKind `json:"kind"`
	Lane     Lane      `json:"lane"`
	Metadata Metadata  `json:"metadata,omitempty"`
}

// Provenance records who or what produced a piece of data and how far to trust it.
type Provenance struct {
	Origin      string    `json:"origin"`
	Description string    `json:"description,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
	TrustScore  float64   `json:"trust_score"` // 0..1
}

// DataHandle is one named input or output of a node.
type DataHandle struct {
	Key        string      `json:"key"`
	Artifact   ArtifactRef `json:"artifact"`
	Facets     []Facet     `json:"facets"`
	Provenance Provenance  `json:"provenance"`
}

// NodeIO is the full I/O record for one node execution.
type NodeIO struct {
	Inputs  map[string]DataHandle `json:"inputs"`
	Outputs map[string]DataHandle `json:"outputs"`
}

// NodeState is the durable record of one node's execution.
type NodeState struct {
	ID           NodeID   `json:"id"`
	Kind         NodeKind `json:"kind"`
	Lane         Lane     `json:"lane"`
	Facets       []Facet  `json:"facets"`
	IO           NodeIO   `json:"io"`
	Dependencies []NodeID `json:"dependencies"` // sorted
	CacheKey     string   `json:"cache_key"`
}

// Snapshot is the point-in-time record of an entire run.
type Snapshot struct {
	Version     string      `json:"version"`
	Nodes       []NodeState `json:"nodes"`
	CapturedAt  time.Time   `json:"captured_at"`
	Description string      `json:"description"`
}

// NewSnapshot builds a snapshot stamped with the current schema version.
func NewSnapshot(nodes []NodeState, capturedAt time.Time, description string) Snapshot {
	if nodes == nil {
		nodes = []NodeState{}
	}
	return Snapshot{
		Version:     SnapshotVersion,
		Nodes:       nodes,
		CapturedAt:  capturedAt.UTC(),
		Description: description,
	}
}

// GraphNode is the authoring-time description of a node.
//
// Inputs are external artifacts the node consumes (digestor evidence, CAS
// objects). Outputs of dependencies are wired in by the engine and do not
// appear here.
type GraphNode struct {
	ID       NodeID                 `json:"id"`
	Name     string                 `json:"name"`
	Kind     NodeKind               `json:"kind"`
	Lane     Lane                   `json:"lane"`
	Metadata Metadata               `json:"metadata,omitempty"`
	Inputs   map[string]ArtifactRef `json:"inputs,omitempty"`
}

// Clone returns a deep copy of n.
func (n GraphNode) Clone() GraphNode {
	out := n
	out.Metadata = n.Metadata.Clone()
	if n.Inputs != nil {
		out.Inputs = make(map[string]ArtifactRef, len(n.Inputs))
		for k, v := range n.Inputs {
			v.Metadata = v.Metadata.Clone()
			out.Inputs[k] = v
		}
	}
	return out
}

// MarshalJSONIndent renders v the way every kiln file on disk is written:
// two-space indentation and a trailing newline.
func MarshalJSONIndent(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
