// SPDX-License-Identifier: AGPL-3.0-or-later

package metadata

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"cargograph/pkg/graph"
	"cargograph/pkg/platform"
	"cargograph/pkg/semverx"
)

// Ingest parses doc into a populated, indexed package graph.
// It is all-or-nothing: any malformed or inconsistent input is a fatal
// *graph.ConstructError, never a partially-built graph.
func Ingest(doc *Document) (*graph.PackageGraph, error) {
	if !utf8.ValidString(doc.WorkspaceRoot) {
		return nil, &graph.ConstructError{Detail: "workspace root is not valid UTF-8"}
	}

	members := make(map[string]bool, len(doc.WorkspaceMembers))
	for _, id := range doc.WorkspaceMembers {
		members[id] = true
	}

	pkgByID := make(map[string]*RawPackage, len(doc.Packages))
	for i := range doc.Packages {
		pkgByID[doc.Packages[i].Id] = &doc.Packages[i]
	}

	b := graph.NewBuilder(doc.WorkspaceRoot)

	for i := range doc.Packages {
		raw := &doc.Packages[i]
		meta, err := convertPackage(raw, doc.WorkspaceRoot, members[raw.Id])
		if err != nil {
			return nil, err
		}
		if err := b.AddPackage(meta); err != nil {
			return nil, err
		}
	}
	for i := range doc.Packages {
		raw := &doc.Packages[i]
		if !members[raw.Id] {
			continue
		}
		relPath := relativeManifestDir(raw.ManifestPath, doc.WorkspaceRoot)
		if err := b.MarkWorkspaceMember(graph.PackageId(raw.Id), raw.Name, relPath); err != nil {
			return nil, err
		}
	}

	nodeByID := make(map[string]*RawNode, len(doc.Resolve.Nodes))
	for i := range doc.Resolve.Nodes {
		nodeByID[doc.Resolve.Nodes[i].Id] = &doc.Resolve.Nodes[i]
	}

	for i := range doc.Packages {
		raw := &doc.Packages[i]
		node, ok := nodeByID[raw.Id]
		if !ok {
			return nil, &graph.ConstructError{Detail: fmt.Sprintf("package %q has no resolve node", raw.Id)}
		}

		resolvedDeps := make([]graph.PackageId, 0, len(node.Deps))
		for _, dep := range node.Deps {
			target, ok := pkgByID[dep.Pkg]
			if !ok {
				return nil, &graph.ConstructError{Detail: fmt.Sprintf(
					"package %q resolve entry references unknown package %q", raw.Id, dep.Pkg)}
			}
			targetVersion, err := semverx.ParseVersion(target.Version)
			if err != nil {
				return nil, &graph.ConstructError{Detail: fmt.Sprintf("package %q: %v", dep.Pkg, err)}
			}

			link, err := buildLink(raw, dep, targetVersion)
			if err != nil {
				return nil, err
			}
			if link != nil {
				if err := b.AddLink(link); err != nil {
					return nil, err
				}
			}
			resolvedDeps = append(resolvedDeps, graph.PackageId(dep.Pkg))
		}

		if err := b.SetResolution(graph.PackageId(raw.Id), resolvedDeps, node.Features); err != nil {
			return nil, err
		}
	}

	return b.Build()
}

// buildLink constructs the PackageLink for one resolved NodeDep, merging the
// per-DependencyKind requirement from whichever manifest-declared
// RawDependency entries match it. Returns (nil, nil) if no manifest entry
// could be matched at all (tolerant of best-effort/partial documents).
func buildLink(raw *RawPackage, dep RawNodeDep, targetVersion semverx.Version) (*graph.PackageLink, error) {
	link := &graph.PackageLink{
		From:         graph.PackageId(raw.Id),
		To:           graph.PackageId(dep.Pkg),
		ResolvedName: dep.Name,
	}

	found := false
	for _, dk := range dep.DepKinds {
		rd, ok := findRawDependency(raw, dep.Name, dk.Kind, targetVersion)
		if !ok {
			continue
		}
		found = true
		if link.DepName == "" {
			link.DepName = rd.Name
			if rd.Rename != "" {
				link.DepName = rd.Rename
			}
		}

		req, err := semverx.ParseReq(rd.Req)
		if err != nil {
			return nil, &graph.ConstructError{Detail: fmt.Sprintf(
				"package %q dependency %q: %v", raw.Id, rd.Name, err)}
		}
		link.VersionReq = req

		status := platform.Always()
		if dk.Target != "" {
			spec, err := platform.ParseTargetSpec(dk.Target)
			if err != nil {
				return nil, &graph.ConstructError{Detail: fmt.Sprintf(
					"package %q dependency %q: %v", raw.Id, rd.Name, err)}
			}
			status = platform.SpecsStatus(spec)
		}

		featureTargets := make(map[string]platform.PlatformStatus, len(rd.Features))
		for _, f := range rd.Features {
			featureTargets[f] = status
		}
		preq := graph.PlatformReq{BuildIf: status, FeatureTargets: featureTargets}
		if rd.UsesDefaultFeatures {
			preq.DefaultFeaturesIf = status
		} else {
			preq.NoDefaultFeaturesIf = status
		}

		var dreq graph.DependencyReq
		if rd.Optional {
			dreq.Optional = preq
		} else {
			dreq.Required = preq
		}

		switch mapKind(dk.Kind) {
		case graph.DepBuild:
			link.Build = mergeDependencyReq(link.Build, dreq)
		case graph.DepDev:
			// A dev-optional entry can't occur from a well-formed document
			// (dev dependencies aren't toggled by the feature system), so it
			// is skipped rather than treated as fatal; see DESIGN.md.
			if rd.Optional {
				continue
			}
			link.Dev = mergeDependencyReq(link.Dev, dreq)
		default:
			link.Normal = mergeDependencyReq(link.Normal, dreq)
		}
	}

	if !found || !link.IsValid() {
		return nil, nil
	}
	return link, nil
}

func mapKind(s string) graph.DependencyKind {
	switch s {
	case "dev":
		return graph.DepDev
	case "build":
		return graph.DepBuild
	default:
		return graph.DepNormal
	}
}

// findRawDependency locates the manifest declaration matching a resolved
// name and kind. Renamed entries take priority; otherwise the first entry
// whose version requirement accepts the resolved target's version, or,
// failing that, the first matching entry.
func findRawDependency(raw *RawPackage, resolvedName, kind string, targetVersion semverx.Version) (*RawDependency, bool) {
	var fallback, first *RawDependency
	for i := range raw.Dependencies {
		d := &raw.Dependencies[i]
		if d.Kind != kind || resolvedNameOf(*d) != resolvedName {
			continue
		}
		if d.Rename != "" {
			return d, true
		}
		if first == nil {
			first = d
		}
		if fallback != nil {
			continue
		}
		if req, err := semverx.ParseReq(d.Req); err == nil && req.Accepts(targetVersion) {
			fallback = d
		}
	}
	if fallback == nil {
		fallback = first
	}
	if fallback != nil {
		return fallback, true
	}
	return nil, false
}

func resolvedNameOf(d RawDependency) string {
	name := d.Rename
	if name == "" {
		name = d.Name
	}
	return strings.ReplaceAll(name, "-", "_")
}

func mergeDependencyReq(a, b graph.DependencyReq) graph.DependencyReq {
	return graph.DependencyReq{
		Required: mergePlatformReq(a.Required, b.Required),
		Optional: mergePlatformReq(a.Optional, b.Optional),
	}
}

func mergePlatformReq(a, b graph.PlatformReq) graph.PlatformReq {
	ft := make(map[string]platform.PlatformStatus, len(a.FeatureTargets)+len(b.FeatureTargets))
	for k, v := range a.FeatureTargets {
		ft[k] = v
	}
	for k, v := range b.FeatureTargets {
		if ex, ok := ft[k]; ok {
			ft[k] = platform.Or(ex, v)
		} else {
			ft[k] = v
		}
	}
	return graph.PlatformReq{
		BuildIf:             platform.Or(a.BuildIf, b.BuildIf),
		DefaultFeaturesIf:   platform.Or(a.DefaultFeaturesIf, b.DefaultFeaturesIf),
		NoDefaultFeaturesIf: platform.Or(a.NoDefaultFeaturesIf, b.NoDefaultFeaturesIf),
		FeatureTargets:      ft,
	}
}

// relativeManifestDir computes a manifest's directory relative to the
// workspace root, forward-slash normalized regardless of host platform.
func relativeManifestDir(manifestPath, workspaceRoot string) string {
	dir := path.Dir(filepath.ToSlash(manifestPath))
	root := strings.TrimSuffix(filepath.ToSlash(workspaceRoot), "/")
	rel := strings.TrimPrefix(dir, root)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return "."
	}
	return rel
}

func convertPackage(raw *RawPackage, workspaceRoot string, isMember bool) (*graph.PackageMetadata, error) {
	version, err := semverx.ParseVersion(raw.Version)
	if err != nil {
		return nil, &graph.ConstructError{Detail: fmt.Sprintf("package %q: %v", raw.Id, err)}
	}

	var source graph.PackageSource
	if raw.Source == "" {
		relPath := relativeManifestDir(raw.ManifestPath, workspaceRoot)
		kind := graph.SourcePath
		if isMember {
			kind = graph.SourceWorkspace
		}
		source = graph.PackageSource{Kind: kind, RelPath: relPath}
	} else {
		source = graph.ParseExternalSource(raw.Source)
	}

	features := make(map[string]graph.FeatureValue, len(raw.Features))
	hasDefault := false
	for name, acts := range raw.Features {
		features[name] = graph.FeatureValue{Activations: acts}
		if name == "default" {
			hasDefault = true
		}
	}
	for _, d := range raw.Dependencies {
		if !d.Optional {
			continue
		}
		name := resolvedNameOf(d)
		if _, exists := features[name]; !exists {
			features[name] = graph.FeatureValue{IsOptionalDep: true}
		}
	}

	targets := make([]graph.BuildTarget, 0, len(raw.Targets))
	for _, t := range raw.Targets {
		bt, err := convertTarget(t)
		if err != nil {
			return nil, err
		}
		targets = append(targets, bt)
	}

	publish := graph.PublishPolicy{Unrestricted: raw.Publish == nil}
	if raw.Publish != nil {
		publish.Registries = *raw.Publish
	}

	return &graph.PackageMetadata{
		Id: graph.PackageId(raw.Id), Name: raw.Name, Version: version,
		Authors: raw.Authors, Description: raw.Description, License: raw.License,
		LicenseFile: raw.LicenseFile, ManifestPath: raw.ManifestPath,
		Categories: raw.Categories, Keywords: raw.Keywords, Readme: raw.Readme,
		Repository: raw.Repository, Edition: raw.Edition, MetadataTable: raw.Metadata,
		Links: raw.Links, Publish: publish, Features: features, Source: source,
		Targets: targets, HasDefaultFeature: hasDefault,
	}, nil
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func convertTarget(t RawTarget) (graph.BuildTarget, error) {
	var id graph.BuildTargetId
	crateKind := graph.CrateBinary

	switch {
	case containsStr(t.Kind, "lib") || containsStr(t.Kind, "rlib") || containsStr(t.Kind, "cdylib") ||
		containsStr(t.Kind, "dylib") || containsStr(t.Kind, "staticlib"):
		id = graph.BuildTargetId{Kind: graph.TargetLibrary}
		crateKind = graph.CrateLibraryOrExample
		if containsStr(t.Kind, "proc-macro") {
			crateKind = graph.CrateProcMacro
		}
	case containsStr(t.Kind, "proc-macro"):
		id = graph.BuildTargetId{Kind: graph.TargetLibrary}
		crateKind = graph.CrateProcMacro
	case containsStr(t.Kind, "custom-build"):
		id = graph.BuildTargetId{Kind: graph.TargetBuildScript}
	case containsStr(t.Kind, "example"):
		id = graph.BuildTargetId{Kind: graph.TargetExample, Name: t.Name}
		crateKind = graph.CrateLibraryOrExample
	case containsStr(t.Kind, "test"):
		id = graph.BuildTargetId{Kind: graph.TargetTest, Name: t.Name}
	case containsStr(t.Kind, "bench"):
		id = graph.BuildTargetId{Kind: graph.TargetBenchmark, Name: t.Name}
	default:
		id = graph.BuildTargetId{Kind: graph.TargetBinary, Name: t.Name}
	}

	bt := graph.BuildTarget{
		Id: id, Kind: crateKind, CrateTypes: t.CrateTypes, LibName: t.Name,
		RequiredFeatures: t.RequiredFeatures, SourcePath: filepath.ToSlash(t.SrcPath),
		Edition: t.Edition, DocTests: t.Doctest,
	}
	if err := bt.Validate(); err != nil {
		return graph.BuildTarget{}, &graph.ConstructError{Detail: err.Error()}
	}
	return bt, nil
}
