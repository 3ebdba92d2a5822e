package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/kiln/internal/ir"
)

// API records OpenAPI documents (*openapi.json, *openapi.yaml).
type API struct{}

func (API) Name() string { return "api" }

func isOpenAPIFile(name string) bool {
	n := strings.ToLower(name)
	return strings.HasSuffix(n, "openapi.json") ||
		strings.HasSuffix(n, "openapi.yaml") ||
		strings.HasSuffix(n, "openapi.yml")
}

// openAPIDoc is the minimal shape an OpenAPI document must have.
type openAPIDoc struct {
	OpenAPI string         `json:"openapi" yaml:"openapi"`
	Info    map[string]any `json:"info" yaml:"info"`
}

func (API) Digest(ctx context.Context, root string) ([]AssetRecord, error) {
	var out []AssetRecord
	err := walkFiles(ctx, root, func(rel, p string, info fs.FileInfo) error {
		if !isOpenAPIFile(info.Name()) {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out = append(out, AssetRecord{
			Path:       rel,
			Digest:     ir.HashBytes(data),
			Kind:       KindAPI,
			Provenance: ProvenanceOpenAPI,
			Trust:      ComputeTrust(ProvenanceOpenAPI, parseOpenAPI(info.Name(), data)),
			Size:       info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("api digestor: %w", err)
	}
	return out, nil
}

// parseOpenAPI reports whether data has a non-empty "openapi" version and
// an "info" object. Deeper schema validation is not attempted.
func parseOpenAPI(name string, data []byte) bool {
	var doc openAPIDoc
	var err error
	if strings.HasSuffix(strings.ToLower(name), ".json") {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	return err == nil && doc.OpenAPI != "" && doc.Info != nil
}
