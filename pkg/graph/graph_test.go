// SPDX-License-Identifier: AGPL-3.0-or-later

package graph

import (
	"testing"

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

func pkgMeta(t *testing.T, id, name, version string, source PackageSource) *PackageMetadata {
	return &PackageMetadata{
		Id:      PackageId(id),
		Name:    name,
		Version: mustVersion(t, version),
		Source:  source,
	}
}

func normalAlways() DependencyReq {
	return DependencyReq{Required: PlatformReq{BuildIf: platform.Always()}}
}

// buildLinearChain builds: a -> datatest -> {ctor, regex, region, serde,
// serde_yaml, walkdir, yaml-rust}.
func buildLinearChain(t *testing.T) *PackageGraph {
	t.Helper()
	b := NewBuilder("/ws")

	a := pkgMeta(t, "a 0.1.0", "a", "0.1.0", PackageSource{Kind: SourceWorkspace, RelPath: "."})
	datatest := pkgMeta(t, "datatest 0.4.2", "datatest", "0.4.2", ParseExternalSource("registry+https://crates"))
	leaves := []struct{ id, name, version string }{
		{"ctor 0.1.10", "ctor", "0.1.10"},
		{"regex 1.3.1", "regex", "1.3.1"},
		{"region 2.1.2", "region", "2.1.2"},
		{"serde 1.0.100", "serde", "1.0.100"},
		{"serde_yaml 0.8.9", "serde_yaml", "0.8.9"},
		{"walkdir 2.2.9", "walkdir", "2.2.9"},
		{"yaml-rust 0.4.3", "yaml-rust", "0.4.3"},
	}

	if err := b.AddPackage(a); err != nil {
		t.Fatal(err)
	}
	if err := b.MarkWorkspaceMember(a.Id, a.Name, "."); err != nil {
		t.Fatal(err)
	}
	if err := b.AddPackage(datatest); err != nil {
		t.Fatal(err)
	}
	for _, l := range leaves {
		if err := b.AddPackage(pkgMeta(t, l.id, l.name, l.version, ParseExternalSource("registry+https://crates"))); err != nil {
			t.Fatal(err)
		}
	}

	must := func(l *PackageLink) {
		t.Helper()
		if err := b.AddLink(l); err != nil {
			t.Fatal(err)
		}
	}

	must(&PackageLink{From: a.Id, To: datatest.Id, DepName: "datatest", ResolvedName: "datatest",
		VersionReq: mustReq(t, "0.4"), Normal: normalAlways()})
	for _, l := range leaves {
		must(&PackageLink{From: datatest.Id, To: PackageId(l.id), DepName: l.name, ResolvedName: l.name,
			VersionReq: mustReq(t, "*"), Normal: normalAlways()})
	}

	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func TestScenarioA_TransitiveClosure(t *testing.T) {
	g := buildLinearChain(t)

	aMeta, err := g.MetadataByWorkspaceName("a")
	if err != nil {
		t.Fatal(err)
	}

	set, err := g.Query([]PackageId{aMeta.Id}, Forward).Resolve()
	if err != nil {
		t.Fatal(err)
	}

	ids := set.PackageIds(Forward)
	if len(ids) != 9 {
		t.Fatalf("expected 9 packages (a + datatest + 7 leaves), got %d: %v", len(ids), ids)
	}
	if ids[0] != aMeta.Id {
		t.Errorf("expected %q first (no incoming edges in subset), got %q", aMeta.Id, ids[0])
	}

	seen := make(map[PackageId]bool)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("id %q appeared more than once", id)
		}
		seen[id] = true
	}
	for _, want := range []string{"datatest 0.4.2", "ctor 0.1.10", "regex 1.3.1", "region 2.1.2",
		"serde 1.0.100", "serde_yaml 0.8.9", "walkdir 2.2.9", "yaml-rust 0.4.3"} {
		if !seen[PackageId(want)] {
			t.Errorf("expected %q in transitive closure", want)
		}
	}
}

func TestScenarioB_RenamedDepResolution(t *testing.T) {
	b := NewBuilder("/ws")
	bPkg := pkgMeta(t, "b 0.1.0", "b", "0.1.0", PackageSource{Kind: SourceWorkspace, RelPath: "."})
	foo := pkgMeta(t, "foo 1.2.0", "foo", "1.2.0", ParseExternalSource("registry+https://crates"))

	if err := b.AddPackage(bPkg); err != nil {
		t.Fatal(err)
	}
	if err := b.MarkWorkspaceMember(bPkg.Id, bPkg.Name, "."); err != nil {
		t.Fatal(err)
	}
	if err := b.AddPackage(foo); err != nil {
		t.Fatal(err)
	}

	if err := b.AddLink(&PackageLink{From: bPkg.Id, To: foo.Id, DepName: "foo", ResolvedName: "foo",
		VersionReq: mustReq(t, "1"), Normal: normalAlways()}); err != nil {
		t.Fatal(err)
	}
	if err := b.AddLink(&PackageLink{From: bPkg.Id, To: foo.Id, DepName: "foo_new", ResolvedName: "foo_new",
		VersionReq: mustReq(t, "1"), Build: normalAlways()}); err != nil {
		t.Fatal(err)
	}

	g, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	links := g.DirectLinks(bPkg.Id, Forward)
	if len(links) != 2 {
		t.Fatalf("expected 2 edges from b to foo, got %d", len(links))
	}
	byName := map[string]*PackageLink{}
	for _, l := range links {
		byName[l.DepName] = l
	}
	if byName["foo"] == nil || byName["foo_new"] == nil {
		t.Fatalf("expected edges named %q and %q, got %v", "foo", "foo_new", byName)
	}
	for _, l := range links {
		if !l.VersionReq.Accepts(foo.Version) {
			t.Errorf("edge %q: requirement %q should accept %q", l.DepName, l.VersionReq, foo.Version)
		}
	}
}

// buildCycleGraph builds: upper-a <-dev-> upper-b -> lower-a <-dev-> lower-b
// matching Scenario D.
func buildCycleGraph(t *testing.T) *PackageGraph {
	t.Helper()
	b := NewBuilder("/ws")
	names := []string{"upper-a", "upper-b", "lower-a", "lower-b"}
	for _, n := range names {
		if err := b.AddPackage(pkgMeta(t, n+" 0.1.0", n, "0.1.0", PackageSource{Kind: SourceWorkspace, RelPath: n})); err != nil {
			t.Fatal(err)
		}
		if err := b.MarkWorkspaceMember(PackageId(n+" 0.1.0"), n, n); err != nil {
			t.Fatal(err)
		}
	}

	devAlways := func() DependencyReq { return DependencyReq{Required: PlatformReq{BuildIf: platform.Always()}} }

	edges := []struct {
		from, to string
		dev      bool
	}{
		{"upper-a", "upper-b", false},
		{"upper-b", "upper-a", true}, // dev back-edge
		{"upper-b", "lower-a", false},
		{"lower-a", "lower-b", false},
		{"lower-b", "lower-a", true}, // dev back-edge
	}
	for _, e := range edges {
		l := &PackageLink{From: PackageId(e.from + " 0.1.0"), To: PackageId(e.to + " 0.1.0"),
			DepName: e.to, ResolvedName: e.to, VersionReq: mustReq(t, "*")}
		if e.dev {
			l.Dev = devAlways()
		} else {
			l.Normal = devAlways()
		}
		if err := b.AddLink(l); err != nil {
			t.Fatal(err)
		}
	}

	g, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestScenarioD_CycleDetection(t *testing.T) {
	g := buildCycleGraph(t)

	cycles := g.Cycles().AllCycles()
	if len(cycles) != 2 {
		t.Fatalf("expected 2 cycles, got %d: %v", len(cycles), cycles)
	}
	if cycles[0][0] != "lower-a 0.1.0" || cycles[1][0] != "upper-a 0.1.0" {
		t.Errorf("unexpected cycle ordering: %v", cycles)
	}

	if g.DependsOn("lower-b 0.1.0", "upper-a 0.1.0") {
		t.Errorf("lower-b should not depend on upper-a")
	}
	if !g.DependsOn("upper-a 0.1.0", "lower-b 0.1.0") {
		t.Errorf("upper-a should depend on lower-b")
	}
}

func TestExternalSourceRoundTrip(t *testing.T) {
	cases := []string{
		"registry+https://github.com/rust-lang/crates.io-index",
		"git+https://github.com/BurntSushi/walkdir?branch=master#7c70132",
		"git+https://github.com/BurntSushi/walkdir?tag=v2.2.9#7c70132",
		"git+https://github.com/BurntSushi/walkdir?rev=7c70132#7c70132",
		"git+https://github.com/BurntSushi/walkdir#7c70132",
	}
	for _, raw := range cases {
		src := ParseExternalSource(raw)
		if got := src.String(); got != raw {
			t.Errorf("round-trip mismatch: parsed %q, got back %q", raw, got)
		}
	}
}
