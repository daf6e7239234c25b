// SPDX-License-Identifier: AGPL-3.0-or-later

package determinator

import (
	"testing"

	"cargograph/pkg/determinator/rules"
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

// buildTwoMemberWorkspace makes "app" (depends on workspace member "lib")
// and "lib", both at the given lib version.
func buildTwoMemberWorkspace(t *testing.T, libVersion string) *graph.PackageGraph {
	t.Helper()
	b := graph.NewBuilder("/ws")
	app := &graph.PackageMetadata{
		Id: "app 0.1.0", Name: "app", Version: mustVersion(t, "0.1.0"),
		Source: graph.PackageSource{Kind: graph.SourceWorkspace, RelPath: "app"},
	}
	lib := &graph.PackageMetadata{
		Id: graph.PackageId("lib " + libVersion), Name: "lib", Version: mustVersion(t, libVersion),
		Source: graph.PackageSource{Kind: graph.SourceWorkspace, RelPath: "lib"},
	}
	for _, m := range []*graph.PackageMetadata{app, lib} {
		if err := b.AddPackage(m); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.MarkWorkspaceMember(app.Id, app.Name, "app"); err != nil {
		t.Fatal(err)
	}
	if err := b.MarkWorkspaceMember(lib.Id, lib.Name, "lib"); err != nil {
		t.Fatal(err)
	}
	if err := b.AddLink(&graph.PackageLink{From: app.Id, To: lib.Id, DepName: "lib", ResolvedName: "lib",
		VersionReq: mustReq(t, "*"),
		Normal:     graph.DependencyReq{Required: graph.PlatformReq{BuildIf: platform.Always()}}}); err != nil {
		t.Fatal(err)
	}
	pg, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return pg
}

func TestPathRuleMarksNamedPackage(t *testing.T) {
	g := buildTwoMemberWorkspace(t, "1.0.0")
	rs, err := rules.Parse(`
[[path-rule]]
globs = ["docs/**"]
mark-changed = ["lib"]
`)
	if err != nil {
		t.Fatal(err)
	}
	set, err := Determine(g, g, []string{"docs/readme.md"}, rs, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !set.PathChanged["lib 1.0.0"] {
		t.Errorf("expected lib marked path-changed, got %+v", set.PathChanged)
	}
	if !set.Affected["lib 1.0.0"] || !set.Affected["app 0.1.0"] {
		t.Errorf("expected app to be affected transitively through lib, got %+v", set.Affected)
	}
}

func TestAncestorMatchFallsBackToMemberDirectory(t *testing.T) {
	g := buildTwoMemberWorkspace(t, "1.0.0")
	set, err := Determine(g, g, []string{"lib/src/lib.rs"}, rules.DefaultRules(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !set.PathChanged["lib 1.0.0"] {
		t.Errorf("expected lib marked path-changed via ancestor match, got %+v", set.PathChanged)
	}
	if !set.Affected["app 0.1.0"] {
		t.Errorf("expected app affected via its dependency on lib")
	}
}

func TestUnmatchedPathMarksWholeWorkspace(t *testing.T) {
	g := buildTwoMemberWorkspace(t, "1.0.0")
	set, err := Determine(g, g, []string{"/etc/outside-the-workspace.txt"}, rules.DefaultRules(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !set.Affected["app 0.1.0"] || !set.Affected["lib 1.0.0"] {
		t.Errorf("expected entire workspace affected, got %+v", set.Affected)
	}
}

func TestSummaryChangePropagatesWithoutSecondConsecutiveCargoBuildEdge(t *testing.T) {
	oldG := buildTwoMemberWorkspace(t, "1.0.0")
	newG := buildTwoMemberWorkspace(t, "1.1.0")
	set, err := Determine(oldG, newG, nil, rules.DefaultRules(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !set.SummaryChanged["lib 1.1.0"] {
		t.Errorf("expected lib's version bump to register as a summary change, got %+v", set.SummaryChanged)
	}
	if !set.Affected["app 0.1.0"] {
		t.Errorf("expected app affected by its own summary change (it now builds lib 1.1.0), got %+v", set.Affected)
	}
}

func TestTransitiveDependentsFindsIndirectDependent(t *testing.T) {
	g := buildTwoMemberWorkspace(t, "1.0.0")
	dependents, err := TransitiveDependents(g, "lib 1.0.0", Options{}.Resolver)
	if err != nil {
		t.Fatal(err)
	}
	if len(dependents) != 1 || dependents[0] != "app 0.1.0" {
		t.Errorf("expected lib's impact set to be exactly [app 0.1.0], got %+v", dependents)
	}
}

func TestTransitiveDependentsOfLeafPackageIsEmpty(t *testing.T) {
	g := buildTwoMemberWorkspace(t, "1.0.0")
	dependents, err := TransitiveDependents(g, "app 0.1.0", Options{}.Resolver)
	if err != nil {
		t.Fatal(err)
	}
	if len(dependents) != 0 {
		t.Errorf("expected nothing to depend on app, got %+v", dependents)
	}
}

func TestTransitiveDependentsRejectsUnknownRoot(t *testing.T) {
	g := buildTwoMemberWorkspace(t, "1.0.0")
	if _, err := TransitiveDependents(g, "missing 9.9.9", Options{}.Resolver); err == nil {
		t.Errorf("expected an error for a package id absent from the graph")
	}
}

func TestPostRuleSkipStopsAncestorMatch(t *testing.T) {
	g := buildTwoMemberWorkspace(t, "1.0.0")
	rs, err := rules.Parse(`
[[path-rule]]
globs = ["tools/**"]
mark-changed = "all"
post-rule = "skip"
`)
	if err != nil {
		t.Fatal(err)
	}
	// A tools/** path triggers the all-workspace rule directly; this also
	// exercises the short-circuit before any ancestor matching runs.
	set, err := Determine(g, g, []string{"tools/ci.sh"}, rs, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !set.Affected["app 0.1.0"] || !set.Affected["lib 1.0.0"] {
		t.Errorf("expected whole workspace affected by mark-changed = \"all\", got %+v", set.Affected)
	}
}
