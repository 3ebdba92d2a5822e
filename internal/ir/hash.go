package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"slices"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for derived keys.
// Version suffix enables future algorithm migration.
const (
	DomainCacheKey    = "kiln/cache-key/v1"
	DomainNameKey     = "kiln/name-key/v1"
	DomainFingerprint = "kiln/graph/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashBytes returns the content hash of data: SHA-256, lowercase hex.
// Content hashes carry no domain prefix so that they match external tools
// (sha256sum) and CAS object names.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader stream-hashes r and returns the hex digest and byte count.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// IsHash reports whether s looks like a content hash (64 lowercase hex chars).
func IsHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ComputeCacheKey derives the content-sensitive cache key of a node.
//
// The key covers, in order: id bytes, kind tag, lane tag, every dependency
// id (sorted by bytes), then every input (sorted by name) as the
// NFC-normalized name followed by its artifact hash. Outputs are excluded.
// Identical content always yields an identical key; changing any input hash
// changes the key.
func (s NodeState) ComputeCacheKey() string {
	h := sha256.New()
	h.Write([]byte(DomainCacheKey))
	h.Write([]byte{0x00})

	h.Write(s.ID.Bytes())
	h.Write([]byte{s.Kind.Tag(), s.Lane.Tag()})

	deps := slices.Clone(s.Dependencies)
	slices.SortFunc(deps, NodeID.Compare)
	for _, dep := range deps {
		h.Write(dep.Bytes())
	}

	names := make([]string, 0, len(s.IO.Inputs))
	for name := range s.IO.Inputs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		writeField(h, []byte(norm.NFC.String(name)))
		writeField(h, []byte(s.IO.Inputs[name].Artifact.Hash))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// NameKey is the inspection-only key derived from a node name alone.
// It is NOT an execution cache key.
func NameKey(name string) string {
	return hashWithDomain(DomainNameKey, []byte(norm.NFC.String(name)))
}

// writeField writes a length-prefixed field so adjacent variable-length
// values cannot be confused ("ab"+"c" vs "a"+"bc").
func writeField(w io.Writer, data []byte) {
	n := uint64(len(data))
	w.Write([]byte{
		byte(n >> 56), byte(n >> 48), byte(n >> 40), byte(n >> 32),
		byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n),
	})
	w.Write(data)
}
