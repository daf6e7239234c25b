// SPDX-License-Identifier: AGPL-3.0-or-later

package cliutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cargograph/pkg/graph"
)

const sampleDoc = `{
  "workspace_root": "/ws",
  "workspace_members": ["app 0.1.0"],
  "packages": [
    {
      "id": "app 0.1.0", "name": "app", "version": "0.1.0",
      "manifest_path": "/ws/Cargo.toml",
      "dependencies": [],
      "targets": [{"name": "app", "kind": ["bin"], "src_path": "/ws/src/main.rs"}]
    }
  ],
  "resolve": {
    "nodes": [{"id": "app 0.1.0", "deps": [], "features": []}]
  }
}`

func TestLoadGraphIngestsDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleDoc), 0o644))

	g, err := LoadGraph(path)
	require.NoError(t, err)
	assert.Len(t, g.Workspace().MemberIds(), 1)
}

func TestLoadGraphMissingFile(t *testing.T) {
	_, err := LoadGraph(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestParsePlatformEmptyIsNil(t *testing.T) {
	assert.Nil(t, ParsePlatform(""))
}

func TestParsePlatformNonEmpty(t *testing.T) {
	p := ParsePlatform("x86_64-unknown-linux-gnu")
	require.NotNil(t, p)
	assert.Equal(t, "x86_64-unknown-linux-gnu", p.TripleStr)
}

func TestPrintPackageIdsSortsOutput(t *testing.T) {
	var buf bytes.Buffer
	PrintPackageIds(&buf, []graph.PackageId{"z 1.0.0", "a 1.0.0"})
	assert.Equal(t, "a 1.0.0\nz 1.0.0\n", buf.String())
}

func TestPrintCyclesJoinsSortedMembers(t *testing.T) {
	var buf bytes.Buffer
	PrintCycles(&buf, [][]graph.PackageId{{"b 1.0.0", "a 1.0.0"}})
	assert.Equal(t, "a 1.0.0, b 1.0.0\n", buf.String())
}
