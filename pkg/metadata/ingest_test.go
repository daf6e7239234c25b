// SPDX-License-Identifier: AGPL-3.0-or-later

package metadata

import (
	"encoding/json"
	"testing"

	"cargograph/pkg/graph"
)

// docJSON builds a minimal metadata document mirroring Scenario
// B: package "b" declares both a normal and a renamed build dependency on
// "foo".
const docJSON = `{
  "workspace_root": "/ws",
  "workspace_members": ["b 0.1.0"],
  "packages": [
    {
      "id": "b 0.1.0", "name": "b", "version": "0.1.0",
      "manifest_path": "/ws/Cargo.toml",
      "dependencies": [
        {"name": "foo", "req": "1", "kind": "", "optional": false, "uses_default_features": true},
        {"name": "foo", "rename": "foo_new", "req": "1", "kind": "build", "optional": false, "uses_default_features": true}
      ],
      "targets": [{"name": "b", "kind": ["lib"], "src_path": "/ws/src/lib.rs"}]
    },
    {
      "id": "foo 1.2.0", "name": "foo", "version": "1.2.0",
      "manifest_path": "/registry/foo/Cargo.toml",
      "source": "registry+https://github.com/rust-lang/crates.io-index",
      "targets": [{"name": "foo", "kind": ["lib"], "src_path": "/registry/foo/src/lib.rs"}]
    }
  ],
  "resolve": {
    "nodes": [
      {"id": "b 0.1.0", "deps": [
        {"name": "foo", "pkg": "foo 1.2.0", "dep_kinds": [{"kind": ""}]},
        {"name": "foo_new", "pkg": "foo 1.2.0", "dep_kinds": [{"kind": "build"}]}
      ], "features": []},
      {"id": "foo 1.2.0", "deps": [], "features": []}
    ]
  }
}`

func TestIngestScenarioB(t *testing.T) {
	var doc Document
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	pg, err := Ingest(&doc)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	links := pg.DirectLinks("b 0.1.0", graph.Forward)
	if len(links) != 2 {
		t.Fatalf("expected 2 links from b, got %d: %+v", len(links), links)
	}

	byName := map[string]*graph.PackageLink{}
	for _, l := range links {
		byName[l.DepName] = l
	}
	if byName["foo"] == nil || !byName["foo"].Normal.IsPresent() {
		t.Errorf("expected a normal edge named %q", "foo")
	}
	if byName["foo_new"] == nil || !byName["foo_new"].Build.IsPresent() {
		t.Errorf("expected a build edge named %q", "foo_new")
	}

	m, err := pg.Metadata("foo 1.2.0")
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsThirdParty() {
		t.Errorf("expected foo to be classified as third-party")
	}
}

func TestIngestOptionalDependencySynthesizesFeature(t *testing.T) {
	doc := Document{
		WorkspaceRoot:    "/ws",
		WorkspaceMembers: []string{"app 0.1.0"},
		Packages: []RawPackage{
			{
				Id: "app 0.1.0", Name: "app", Version: "0.1.0", ManifestPath: "/ws/Cargo.toml",
				Dependencies: []RawDependency{{Name: "extra", Req: "1", Optional: true, UsesDefaultFeatures: true}},
				Targets:      []RawTarget{{Name: "app", Kind: []string{"lib"}, SrcPath: "/ws/src/lib.rs"}},
			},
			{
				Id: "extra 1.0.0", Name: "extra", Version: "1.0.0", ManifestPath: "/registry/extra/Cargo.toml",
				Source:  "registry+https://github.com/rust-lang/crates.io-index",
				Targets: []RawTarget{{Name: "extra", Kind: []string{"lib"}, SrcPath: "/registry/extra/src/lib.rs"}},
			},
		},
		Resolve: RawResolve{Nodes: []RawNode{
			{Id: "app 0.1.0", Deps: []RawNodeDep{{Name: "extra", Pkg: "extra 1.0.0", DepKinds: []RawDepKind{{Kind: ""}}}}},
			{Id: "extra 1.0.0"},
		}},
	}

	pg, err := Ingest(&doc)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	m, err := pg.Metadata("app 0.1.0")
	if err != nil {
		t.Fatal(err)
	}
	fv, ok := m.Features["extra"]
	if !ok || !fv.IsOptionalDep {
		t.Errorf("expected synthesized optional-dependency feature %q, got %+v", "extra", m.Features)
	}
}
