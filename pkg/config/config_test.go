// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cargograph.yaml")
	contents := "metadata_path: out/metadata.json\nplatforms:\n  - x86_64-unknown-linux-gnu\ninclude_dev: true\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MetadataPath != "out/metadata.json" {
		t.Errorf("got MetadataPath %q", cfg.MetadataPath)
	}
	if len(cfg.Platforms) != 1 || cfg.Platforms[0] != "x86_64-unknown-linux-gnu" {
		t.Errorf("got Platforms %+v", cfg.Platforms)
	}
	if !cfg.IncludeDev {
		t.Errorf("expected IncludeDev true")
	}
}

func TestLoadMissingFileReturnsErrConfigNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
}
