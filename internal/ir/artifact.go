package ir

import (
	"fmt"
	"io"
)

// ArtifactRef identifies a produced or consumed artifact by content.
//
// Hash is computed once when the ref is built and is authoritative for the
// bytes as of creation. It is never recomputed, even if Path later changes
// on disk.
type ArtifactRef struct {
	Path        string   `json:"path,omitempty"`
	Hash        string   `json:"hash"`
	ContentType string   `json:"content_type,omitempty"`
	Metadata    Metadata `json:"metadata,omitempty"`
}

// NewArtifactRef hashes data and returns the ref. It cannot fail.
func NewArtifactRef(path string, data []byte, contentType string) ArtifactRef {
	return ArtifactRef{
		Path:        path,
		Hash:        HashBytes(data),
		ContentType: contentType,
	}
}

// NewArtifactRefFromReader stream-hashes r, for artifacts too large to
// hold in memory.
func NewArtifactRefFromReader(path string, r io.Reader, contentType string) (ArtifactRef, error) {
	hash, _, err := HashReader(r)
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("hash artifact %s: %w", path, err)
	}
	return ArtifactRef{
		Path:        path,
		Hash:        hash,
		ContentType: contentType,
	}, nil
}

// WithMetadata returns a copy of a with the metadata key set.
func (a ArtifactRef) WithMetadata(key string, value any) ArtifactRef {
	md := a.Metadata.Clone()
	if md == nil {
		md = Metadata{}
	}
	md[key] = value
	a.Metadata = md
	return a
}
