package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTopologyParsesBootstrapList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	content := "bootstrap:\n  - \"abc:127.0.0.1:9001\"\n  - \"def:127.0.0.1:9002\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	top, err := LoadTopology(path)
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	if len(top.Bootstrap) != 2 || top.Bootstrap[0] != "abc:127.0.0.1:9001" || top.Bootstrap[1] != "def:127.0.0.1:9002" {
		t.Fatalf("unexpected topology: %+v", top)
	}
}

func TestLoadTopologyMissingFile(t *testing.T) {
	if _, err := LoadTopology(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing topology file")
	}
}
