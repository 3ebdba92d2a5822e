package digest

import (
	"context"
	"fmt"
)

// AssetKind classifies an AssetRecord.
type AssetKind string

const (
	KindGit    AssetKind = "git"
	KindConfig AssetKind = "config"
	KindAPI    AssetKind = "api"
	KindSBOM   AssetKind = "sbom"
	KindBinary AssetKind = "binary"
	KindOther  AssetKind = "other"
)

// ParseAssetKind accepts the lowercase kind names.
func ParseAssetKind(s string) (AssetKind, error) {
	switch k := AssetKind(s); k {
	case KindGit, KindConfig, KindAPI, KindSBOM, KindBinary, KindOther:
		return k, nil
	}
	return "", fmt.Errorf("unknown asset kind %q", s)
}

// Provenance labels stamped by the built-in digestors.
const (
	ProvenanceGitHead = "git-head"
	ProvenanceConfig  = "config-file"
	ProvenanceOpenAPI = "openapi-spec"
	ProvenanceSBOM    = "sbom-file"
	ProvenanceBinary  = "binary-file"
)

// AssetRecord is one piece of evidence found in a tree.
type AssetRecord struct {
	Path       string    `json:"path"` // slash-separated, relative to the scan root
	Digest     string    `json:"digest"`
	Kind       AssetKind `json:"kind"`
	Provenance string    `json:"provenance"`
	Trust      float64   `json:"trust"`
	Size       int64     `json:"size"`
}

// Digestor scans root for one kind of asset.
type Digestor interface {
	Name() string
	Digest(ctx context.Context, root string) ([]AssetRecord, error)
}

// All returns the built-in digestors.
func All() []Digestor {
	return []Digestor{Git{}, Config{}, API{}, SBOM{}, Binary{}}
}

// ByName returns the built-in digestors whose names are listed, in the
// order given.
func ByName(names ...string) ([]Digestor, error) {
	index := make(map[string]Digestor)
	for _, d := range All() {
		index[d.Name()] = d
	}
	out := make([]Digestor, 0, len(names))
	for _, n := range names {
		d, ok := index[n]
		if !ok {
			return nil, fmt.Errorf("unknown digestor %q", n)
		}
		out = append(out, d)
	}
	return out, nil
}
