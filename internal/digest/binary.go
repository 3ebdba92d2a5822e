package digest

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// Binary records non-empty executables and modules (.exe, .bin, .wasm).
type Binary struct{}

func (Binary) Name() string { return "binary" }

var binaryExts = map[string]bool{".exe": true, ".bin": true, ".wasm": true}

func (Binary) Digest(ctx context.Context, root string) ([]AssetRecord, error) {
	var out []AssetRecord
	err := walkFiles(ctx, root, func(rel, p string, info fs.FileInfo) error {
		if !binaryExts[strings.ToLower(path.Ext(info.Name()))] || info.Size() == 0 {
			return nil
		}
		hash, err := hashFile(p)
		if err != nil {
			return err
		}
		out = append(out, AssetRecord{
			Path:       rel,
			Digest:     hash,
			Kind:       KindBinary,
			Provenance: ProvenanceBinary,
			Trust:      ComputeTrust(ProvenanceBinary, true),
			Size:       info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("binary digestor: %w", err)
	}
	return out, nil
}
