package digest

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
)

// SBOM records software bills of materials: any file whose name contains
// "sbom".
type SBOM struct{}

func (SBOM) Name() string { return "sbom" }

func isSBOMFile(name string) bool {
	return strings.Contains(strings.ToLower(name), "sbom")
}

func (SBOM) Digest(ctx context.Context, root string) ([]AssetRecord, error) {
	var out []AssetRecord
	err := walkFiles(ctx, root, func(rel, p string, info fs.FileInfo) error {
		if !isSBOMFile(info.Name()) {
			return nil
		}
		hash, err := hashFile(p)
		if err != nil {
			return err
		}
		out = append(out, AssetRecord{
			Path:       rel,
			Digest:     hash,
			Kind:       KindSBOM,
			Provenance: ProvenanceSBOM,
			Trust:      ComputeTrust(ProvenanceSBOM, info.Size() > 0),
			Size:       info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sbom digestor: %w", err)
	}
	return out, nil
}
