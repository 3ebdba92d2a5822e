package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteTree creates files under root. Keys are slash-separated paths
// relative to root; parent directories are created as needed.
func WriteTree(t testing.TB, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir for %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

// CodeDrop writes the canonical five-asset source tree used across tests:
// a git HEAD, a TOML config, an OpenAPI document, an SBOM and a 4-byte
// binary. It returns root for convenience.
func CodeDrop(t testing.TB, root string) string {
	t.Helper()
	WriteTree(t, root, map[string]string{
		".git/HEAD":                 "ref: refs/heads/main",
		"config.toml":               "name = \"demo\"\n",
		"apis/service.openapi.json": `{"openapi":"3.0.0","info":{}}`,
		"component.sbom.json":       `{"bomFormat":"CycloneDX"}`,
		"bin/tool.bin":              "\x00\x01\x02\x03",
	})
	return root
}
