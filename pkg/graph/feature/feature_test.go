// SPDX-License-Identifier: AGPL-3.0-or-later

package feature

import (
	"testing"

	"cargograph/pkg/graph"
	"cargograph/pkg/platform"
	"cargograph/pkg/semverx"
)

func mustVersion(t *testing.T, s string) semverx.Version {
	t.Helper()
	v, err := semverx.ParseVersion(s)
	if err != nil {
		t.Fatalf("ParseVersion(%q): %v", s, err)
	}
	return v
}

func mustReq(t *testing.T, s string) semverx.Req {
	t.Helper()
	r, err := semverx.ParseReq(s)
	if err != nil {
		t.Fatalf("ParseReq(%q): %v", s, err)
	}
	return r
}

func alwaysOptional() graph.DependencyReq {
	return graph.DependencyReq{Optional: graph.PlatformReq{BuildIf: platform.Always()}}
}

func alwaysRequired() graph.DependencyReq {
	return graph.DependencyReq{Required: graph.PlatformReq{BuildIf: platform.Always()}}
}

// buildAppAndBackend builds a workspace package "app" with:
//   - a required dependency on "core" (default-features only)
//   - an optional dependency on "extra", exposed as feature "extra"
//   - a named feature "fancy" that activates "extra" (intra-package, since
//     the optional-dep feature shares app's own feature namespace) and
//     "core/logging" (cross-package)
func buildAppAndBackend(t *testing.T) (*graph.PackageGraph, *Graph) {
	t.Helper()
	b := graph.NewBuilder("/ws")

	app := &graph.PackageMetadata{
		Id: "app 0.1.0", Name: "app", Version: mustVersion(t, "0.1.0"),
		Source: graph.PackageSource{Kind: graph.SourceWorkspace, RelPath: "."},
		Features: map[string]graph.FeatureValue{
			"extra": {IsOptionalDep: true},
			"fancy": {Activations: []string{"extra", "core/logging"}},
		},
	}
	core := &graph.PackageMetadata{
		Id: "core 1.0.0", Name: "core", Version: mustVersion(t, "1.0.0"),
		Source: graph.PackageSource{Kind: graph.SourceExternal},
		Features: map[string]graph.FeatureValue{
			"logging": {},
		},
	}
	extra := &graph.PackageMetadata{
		Id: "extra 1.0.0", Name: "extra", Version: mustVersion(t, "1.0.0"),
		Source: graph.PackageSource{Kind: graph.SourceExternal},
	}

	for _, m := range []*graph.PackageMetadata{app, core, extra} {
		if err := b.AddPackage(m); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.MarkWorkspaceMember(app.Id, app.Name, "."); err != nil {
		t.Fatal(err)
	}

	if err := b.AddLink(&graph.PackageLink{From: app.Id, To: core.Id, DepName: "core", ResolvedName: "core",
		VersionReq: mustReq(t, "1"), Normal: alwaysRequired()}); err != nil {
		t.Fatal(err)
	}
	if err := b.AddLink(&graph.PackageLink{From: app.Id, To: extra.Id, DepName: "extra", ResolvedName: "extra",
		VersionReq: mustReq(t, "1"), Normal: alwaysOptional()}); err != nil {
		t.Fatal(err)
	}

	pg, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	fg, err := Build(pg)
	if err != nil {
		t.Fatal(err)
	}
	return pg, fg
}

func TestFeatureToBaseEdges(t *testing.T) {
	_, fg := buildAppAndBackend(t)
	for _, name := range []string{"extra", "fancy"} {
		edges := fg.Forward(Id{Package: "app 0.1.0", Feature: name})
		found := false
		for _, e := range edges {
			if e.Kind == FeatureToBase && e.To == (Id{Package: "app 0.1.0"}) {
				found = true
			}
		}
		if !found {
			t.Errorf("expected FeatureToBase edge from %q to app's base node", name)
		}
	}
}

func TestFancyActivatesExtraIntraPackage(t *testing.T) {
	_, fg := buildAppAndBackend(t)
	edges := fg.Forward(Id{Package: "app 0.1.0", Feature: "fancy"})
	found := false
	for _, e := range edges {
		if e.Kind == FeatureDependency && e.To == (Id{Package: "app 0.1.0", Feature: "extra"}) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected fancy -> extra FeatureDependency edge, got %+v", edges)
	}
}

func TestFancyActivatesCoreLoggingCrossPackage(t *testing.T) {
	_, fg := buildAppAndBackend(t)
	edges := fg.Forward(Id{Package: "app 0.1.0", Feature: "fancy"})
	found := false
	for _, e := range edges {
		if e.Kind == CrossPackage && e.To == (Id{Package: "core 1.0.0", Feature: "logging"}) {
			found = true
			if e.Normal.IsNever() {
				t.Errorf("expected cross-package edge to be active under Normal")
			}
		}
	}
	if !found {
		t.Errorf("expected fancy -> core/logging CrossPackage edge, got %+v", edges)
	}
}

func TestDefaultCrossPackageEdgeFromAppBase(t *testing.T) {
	_, fg := buildAppAndBackend(t)
	edges := fg.Forward(Id{Package: "app 0.1.0"})
	foundBase, foundDefault := false, false
	for _, e := range edges {
		if e.Kind != CrossPackage || e.To.Package != "core 1.0.0" {
			continue
		}
		if e.To.Feature == "" {
			foundBase = true
		}
		if e.To.Feature == "default" {
			foundDefault = true
		}
	}
	if !foundBase {
		t.Errorf("expected app base -> core base CrossPackage edge")
	}
	_ = foundDefault // core has no "default" feature declared; presence is optional
}

func TestOptionalDependencyActivatesFromOwnFeatureNode(t *testing.T) {
	_, fg := buildAppAndBackend(t)
	// The required dependency edge (app -> core) activates from app's base.
	// The optional dependency edge (app -> extra) must NOT originate from
	// app's base (since enabling the dep is conditional on the "extra"
	// feature), but from app's own "extra" feature node.
	baseEdges := fg.Forward(Id{Package: "app 0.1.0"})
	for _, e := range baseEdges {
		if e.Kind == CrossPackage && e.To.Package == "extra 1.0.0" {
			t.Errorf("optional dependency must not activate unconditionally from base: %+v", e)
		}
	}
	extraEdges := fg.Forward(Id{Package: "app 0.1.0", Feature: "extra"})
	found := false
	for _, e := range extraEdges {
		if e.Kind == CrossPackage && e.To.Package == "extra 1.0.0" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected app/extra -> extra CrossPackage edge, got %+v", extraEdges)
	}
}

func TestMissingFeatureWarning(t *testing.T) {
	b := graph.NewBuilder("/ws")
	p := &graph.PackageMetadata{
		Id: "p 0.1.0", Name: "p", Version: mustVersion(t, "0.1.0"),
		Source: graph.PackageSource{Kind: graph.SourceWorkspace, RelPath: "."},
		Features: map[string]graph.FeatureValue{
			"bad": {Activations: []string{"nonexistent"}},
		},
	}
	if err := b.AddPackage(p); err != nil {
		t.Fatal(err)
	}
	if err := b.MarkWorkspaceMember(p.Id, p.Name, "."); err != nil {
		t.Fatal(err)
	}
	pg, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	fg, err := Build(pg)
	if err != nil {
		t.Fatal(err)
	}
	warnings := fg.Warnings()
	if len(warnings) != 1 || warnings[0].Stage != WarningIntraPackage || warnings[0].Activation != "nonexistent" {
		t.Fatalf("expected one intra-package missing-feature warning, got %+v", warnings)
	}
}

func TestDevOnlyCrossPackageEdgeExcludedForNonWorkspace(t *testing.T) {
	b := graph.NewBuilder("/ws")
	leaf := &graph.PackageMetadata{
		Id: "leaf 0.1.0", Name: "leaf", Version: mustVersion(t, "0.1.0"),
		Source: graph.PackageSource{Kind: graph.SourceExternal},
	}
	devDep := &graph.PackageMetadata{
		Id: "devdep 0.1.0", Name: "devdep", Version: mustVersion(t, "0.1.0"),
		Source: graph.PackageSource{Kind: graph.SourceExternal},
	}
	if err := b.AddPackage(leaf); err != nil {
		t.Fatal(err)
	}
	if err := b.AddPackage(devDep); err != nil {
		t.Fatal(err)
	}
	if err := b.AddLink(&graph.PackageLink{From: leaf.Id, To: devDep.Id, DepName: "devdep", ResolvedName: "devdep",
		VersionReq: mustReq(t, "*"),
		Dev:        graph.DependencyReq{Required: graph.PlatformReq{BuildIf: platform.Always()}}}); err != nil {
		t.Fatal(err)
	}
	pg, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	fg, err := Build(pg)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range fg.Forward(Id{Package: leaf.Id}) {
		if e.Kind == CrossPackage && e.To.Package == devDep.Id && !e.Dev.IsNever() {
			t.Errorf("expected dev edge from non-workspace package to be excluded (Never), got %+v", e.Dev)
		}
	}
}
