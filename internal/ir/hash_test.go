package ir

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytesKnownVector(t *testing.T) {
	// sha256("abc")
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		HashBytes([]byte("abc")))
}

func TestHashReaderMatchesHashBytes(t *testing.T) {
	data := bytes.Repeat([]byte("kiln"), 10000)

	hash, n, err := HashReader(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, HashBytes(data), hash)
	assert.Equal(t, int64(len(data)), n)
}

func TestIsHash(t *testing.T) {
	assert.True(t, IsHash(HashBytes(nil)))
	assert.False(t, IsHash("abc"))
	assert.False(t, IsHash(strings.ToUpper(HashBytes(nil))), "uppercase hex is not canonical")
	assert.False(t, IsHash(strings.Repeat("g", 64)))
}

func TestNewArtifactRefHashesOnce(t *testing.T) {
	data := []byte("payload")
	ref := NewArtifactRef("out/payload.txt", data, "text/plain")

	assert.Equal(t, HashBytes(data), ref.Hash)
	assert.Equal(t, "out/payload.txt", ref.Path)
	assert.Equal(t, "text/plain", ref.ContentType)

	// Mutating the source buffer afterwards does not change the identity.
	data[0] = 'P'
	assert.NotEqual(t, HashBytes(data), ref.Hash)
}

func TestNewArtifactRefFromReader(t *testing.T) {
	ref, err := NewArtifactRefFromReader("big.bin", strings.NewReader("payload"), "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, NewArtifactRef("big.bin", []byte("payload"), "").Hash, ref.Hash)
}

func testNodeState() NodeState {
	dep1 := MustParseNodeID("00000000-0000-4000-8000-000000000001")
	dep2 := MustParseNodeID("00000000-0000-4000-8000-000000000002")
	return NodeState{
		ID:           MustParseNodeID("00000000-0000-4000-8000-0000000000aa"),
		Kind:         KindTransform,
		Lane:         LaneDeep,
		Dependencies: []NodeID{dep2, dep1},
		IO: NodeIO{
			Inputs: map[string]DataHandle{
				"source": {Key: "source", Artifact: NewArtifactRef("", []byte("v1"), "")},
				"config": {Key: "config", Artifact: NewArtifactRef("", []byte("c1"), "")},
			},
			Outputs: map[string]DataHandle{},
		},
	}
}

func TestComputeCacheKeyDeterminism(t *testing.T) {
	s := testNodeState()

	k1 := s.ComputeCacheKey()
	k2 := testNodeState().ComputeCacheKey()

	assert.Equal(t, k1, k2, "identical content must produce identical keys")
	assert.Len(t, k1, 64)
	assert.True(t, IsHash(k1))
}

func TestComputeCacheKeyDependencyOrderIndependent(t *testing.T) {
	a := testNodeState()
	b := testNodeState()
	b.Dependencies = []NodeID{a.Dependencies[1], a.Dependencies[0]}

	assert.Equal(t, a.ComputeCacheKey(), b.ComputeCacheKey())
}

func TestComputeCacheKeyChangesWithInputs(t *testing.T) {
	base := testNodeState().ComputeCacheKey()

	changed := testNodeState()
	changed.IO.Inputs["source"] = DataHandle{Key: "source", Artifact: NewArtifactRef("", []byte("v2"), "")}
	assert.NotEqual(t, base, changed.ComputeCacheKey(), "changed input bytes must change the key")

	renamed := testNodeState()
	renamed.IO.Inputs["source2"] = renamed.IO.Inputs["source"]
	delete(renamed.IO.Inputs, "source")
	assert.NotEqual(t, base, renamed.ComputeCacheKey(), "input names are part of the key")

	lane := testNodeState()
	lane.Lane = LaneFast
	assert.NotEqual(t, base, lane.ComputeCacheKey())

	kind := testNodeState()
	kind.Kind = KindVerify
	assert.NotEqual(t, base, kind.ComputeCacheKey())

	noDeps := testNodeState()
	noDeps.Dependencies = nil
	assert.NotEqual(t, base, noDeps.ComputeCacheKey())
}

func TestComputeCacheKeyIgnoresOutputs(t *testing.T) {
	base := testNodeState().ComputeCacheKey()

	s := testNodeState()
	s.IO.Outputs["stdout"] = DataHandle{Key: "stdout", Artifact: NewArtifactRef("", []byte("out"), "")}
	s.CacheKey = "stale"

	assert.Equal(t, base, s.ComputeCacheKey())
}

func TestComputeCacheKeyFieldBoundaries(t *testing.T) {
	a := testNodeState()
	a.IO.Inputs = map[string]DataHandle{"ab": {Artifact: ArtifactRef{Hash: "c"}}}
	b := testNodeState()
	b.IO.Inputs = map[string]DataHandle{"a": {Artifact: ArtifactRef{Hash: "bc"}}}

	assert.NotEqual(t, a.ComputeCacheKey(), b.ComputeCacheKey())
}

func TestNameKey(t *testing.T) {
	assert.Equal(t, NameKey("analyze"), NameKey("analyze"))
	assert.NotEqual(t, NameKey("analyze"), NameKey("decide"))
	assert.Equal(t, NameKey("cafe\u0301"), NameKey("caf\u00e9"))
}
