package ir

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// NodeID is a 128-bit identifier for a graph node.
// The zero value means "unassigned".
type NodeID uuid.UUID

// nodeNamespace scopes name-derived ids.
var nodeNamespace = uuid.MustParse("6f1c2a8e-3b0d-5e47-9a61-0c4d2b7f8e15")

// NewNodeID returns a fresh random (version 4) NodeID.
func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

// NamedNodeID derives a stable (version 5) NodeID from a scope, such as a
// job name, and a node name. Graphs rebuilt from the same description get
// the same ids, so their cache keys survive across processes.
func NamedNodeID(scope, name string) NodeID {
	data := norm.NFC.String(scope) + "\x00" + norm.NFC.String(name)
	return NodeID(uuid.NewSHA1(nodeNamespace, []byte(data)))
}

// ParseNodeID parses the hyphenated string form.
func ParseNodeID(s string) (NodeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("parse node id %q: %w", s, err)
	}
	return NodeID(u), nil
}

// MustParseNodeID is like ParseNodeID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParseNodeID(s string) NodeID {
	id, err := ParseNodeID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsZero reports whether the id is unassigned.
func (id NodeID) IsZero() bool { return id == NodeID{} }

// Bytes returns the 16 raw bytes hashed into cache keys.
func (id NodeID) Bytes() []byte {
	b := [16]byte(id)
	return b[:]
}

func (id NodeID) String() string { return uuid.UUID(id).String() }

// Compare orders ids by their raw bytes. Used wherever a set of ids must
// be iterated deterministically.
func (id NodeID) Compare(other NodeID) int {
	return bytes.Compare(id.Bytes(), other.Bytes())
}

// MarshalText implements encoding.TextMarshaler.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NodeID) UnmarshalText(b []byte) error {
	v, err := ParseNodeID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
