package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/roach88/kiln/internal/ir"
)

// Config records configuration files (TOML, YAML, JSON). Files that the
// API or SBOM digestors claim are left to them.
type Config struct{}

func (Config) Name() string { return "config" }

var configExts = map[string]bool{".toml": true, ".yaml": true, ".yml": true, ".json": true}

func isConfigFile(name string) bool {
	return configExts[strings.ToLower(path.Ext(name))]
}

func (Config) Digest(ctx context.Context, root string) ([]AssetRecord, error) {
	var out []AssetRecord
	err := walkFiles(ctx, root, func(rel, p string, info fs.FileInfo) error {
		name := info.Name()
		if !isConfigFile(name) || isOpenAPIFile(name) || isSBOMFile(name) {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out = append(out, AssetRecord{
			Path:       rel,
			Digest:     ir.HashBytes(data),
			Kind:       KindConfig,
			Provenance: ProvenanceConfig,
			Trust:      ComputeTrust(ProvenanceConfig, parsesAsConfig(name, data)),
			Size:       info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("config digestor: %w", err)
	}
	return out, nil
}

// parsesAsConfig reports whether data is well-formed for its extension.
func parsesAsConfig(name string, data []byte) bool {
	var v any
	switch strings.ToLower(path.Ext(name)) {
	case ".toml":
		var m map[string]any
		return toml.Unmarshal(data, &m) == nil
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, &v) == nil
	case ".json":
		return json.Unmarshal(data, &v) == nil
	}
	return false
}
