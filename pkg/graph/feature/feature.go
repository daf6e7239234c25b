// SPDX-License-Identifier: AGPL-3.0-or-later

package feature

import (
	"sort"
	"strings"
	"sync"

	"cargograph/pkg/graph"
	"cargograph/pkg/platform"
)

// Graph is the derived feature graph for one package graph.
// Like PackageGraph, its cycle/SCC view is computed lazily and cached.
type Graph struct {
	pg *graph.PackageGraph

	nodes   map[graph.PackageId]map[string]bool
	forward map[Id][]*Edge
	reverse map[Id][]*Edge

	warnings []Warning

	sccOnce   sync.Once
	sccResult *Cycles
}

// Build constructs the feature graph for pg: one base node
// and one node per named/optional-dependency feature for every package, a
// FeatureToBase edge from each named node to its package's base, intra- and
// cross-package FeatureDependency/CrossPackage edges from each feature's
// activation list, and default cross-package edges mirroring every package
// dependency edge's own default-features/feature-targets activation.
func Build(pg *graph.PackageGraph) (*Graph, error) {
	g := &Graph{
		pg:      pg,
		nodes:   make(map[graph.PackageId]map[string]bool),
		forward: make(map[Id][]*Edge),
		reverse: make(map[Id][]*Edge),
	}

	for _, m := range pg.Packages() {
		names := map[string]bool{"": true}
		for name := range m.Features {
			names[name] = true
		}
		g.nodes[m.Id] = names
	}

	for _, m := range pg.Packages() {
		g.addFeatureToBaseEdges(m)
		g.addActivationEdges(m)
	}

	for _, m := range pg.Packages() {
		g.addDefaultCrossPackageEdges(m)
	}

	return g, nil
}

func (g *Graph) addEdge(e *Edge) {
	g.forward[e.From] = append(g.forward[e.From], e)
	g.reverse[e.To] = append(g.reverse[e.To], e)
}

func (g *Graph) nodeExists(id Id) bool {
	names, ok := g.nodes[id.Package]
	if !ok {
		return false
	}
	return names[id.Feature]
}

func (g *Graph) addFeatureToBaseEdges(m *graph.PackageMetadata) {
	base := Id{Package: m.Id}
	for name := range m.Features {
		if name == "" {
			continue
		}
		g.addEdge(&Edge{Kind: FeatureToBase, From: Id{Package: m.Id, Feature: name}, To: base})
	}
}

// splitActivation parses one feature-table activation string. A cross-package
// activation ("dep/feat" or the weak-optional "dep?/feat" form) resolves to
// (dep, feat, true); anything without a "/" is an intra-package feature
// reference (false). The weak-optional "?" marker is accepted but not
// distinguished further: "dep?/feat" is treated exactly like "dep/feat".
func splitActivation(act string) (dep, rest string, isCross bool) {
	if i := strings.IndexByte(act, '/'); i >= 0 {
		dep = strings.TrimSuffix(act[:i], "?")
		return dep, act[i+1:], true
	}
	return act, "", false
}

func findDepLink(pg *graph.PackageGraph, from graph.PackageId, declaredName string) *graph.PackageLink {
	links := pg.DirectLinks(from, graph.Forward)
	for _, l := range links {
		if l.ResolvedName == declaredName {
			return l
		}
	}
	for _, l := range links {
		if l.DepName == declaredName {
			return l
		}
	}
	return nil
}

func (g *Graph) addActivationEdges(m *graph.PackageMetadata) {
	for name, fv := range m.Features {
		if fv.IsOptionalDep {
			continue
		}
		from := Id{Package: m.Id, Feature: name}
		for _, act := range fv.Activations {
			dep, sub, isCross := splitActivation(act)
			if !isCross {
				target := Id{Package: m.Id, Feature: dep}
				if !g.nodeExists(target) {
					g.warnings = append(g.warnings, Warning{
						Stage: WarningIntraPackage, Package: m.Id, FeatureName: name, Activation: act,
					})
					continue
				}
				g.addEdge(&Edge{Kind: FeatureDependency, From: from, To: target})
				continue
			}

			link := findDepLink(g.pg, m.Id, dep)
			if link == nil {
				g.warnings = append(g.warnings, Warning{
					Stage: WarningCrossPackage, Package: m.Id, FeatureName: name, Activation: act,
				})
				continue
			}
			normal := platform.Or(link.Normal.Required.BuildIf, link.Normal.Optional.BuildIf)
			build := platform.Or(link.Build.Required.BuildIf, link.Build.Optional.BuildIf)
			dev := platform.Or(link.Dev.Required.BuildIf, link.Dev.Optional.BuildIf)
			dev = devStatusForOwner(dev, m)

			g.addEdge(&Edge{Kind: CrossPackage, From: from, To: Id{Package: link.To, Feature: sub},
				Link: link, Normal: normal, Build: build, Dev: dev})
			g.addEdge(&Edge{Kind: CrossPackage, From: from, To: Id{Package: link.To},
				Link: link, Normal: normal, Build: build, Dev: dev})
		}
	}
}

// devStatusForOwner applies this module's rule that cross-package dev edges
// originating from a non-workspace package are excluded from the feature
// graph: only workspace members build and run their own dev-dependencies.
func devStatusForOwner(dev platform.PlatformStatus, owner *graph.PackageMetadata) platform.PlatformStatus {
	if owner.InWorkspace() {
		return dev
	}
	return platform.Never()
}

// featureStatusForKind returns the per-kind gating status for activating
// featureName on the other end of a dependency instance (Required or
// Optional half): "" (base) is gated by the instance's own BuildIf, "default"
// by DefaultFeaturesIf, and any other name by its FeatureTargets entry.
func featureStatusForKind(req graph.PlatformReq, featureName string) platform.PlatformStatus {
	switch featureName {
	case "":
		return req.BuildIf
	case "default":
		return req.DefaultFeaturesIf
	default:
		if st, ok := req.FeatureTargets[featureName]; ok {
			return st
		}
		return platform.Never()
	}
}

// addDefaultCrossPackageEdges builds the edges implied directly by a package
// dependency edge's own feature-activation fields (default-features and any
// explicit feature_targets), independent of the feature table: one edge per
// activated target, per instance (required dependencies activate from the
// depender's base node; optional dependencies activate from their own
// optional-dependency feature node).
func (g *Graph) addDefaultCrossPackageEdges(m *graph.PackageMetadata) {
	for _, link := range g.pg.DirectLinks(m.Id, graph.Forward) {
		toNames := g.nodes[link.To]

		targets := map[string]bool{"": true, "default": true}
		for name := range toNames {
			if name != "" {
				targets[name] = true
			}
		}

		for _, instCls := range []struct {
			normal, build, dev graph.PlatformReq
			from               Id
		}{
			{link.Normal.Required, link.Build.Required, link.Dev.Required, Id{Package: m.Id}},
			{link.Normal.Optional, link.Build.Optional, link.Dev.Optional,
				Id{Package: m.Id, Feature: link.ResolvedName}},
		} {
			if instCls.from.Feature != "" && !g.nodeExists(instCls.from) {
				continue
			}
			for name := range targets {
				normal := featureStatusForKind(instCls.normal, name)
				build := featureStatusForKind(instCls.build, name)
				dev := featureStatusForKind(instCls.dev, name)
				if normal.IsNever() && build.IsNever() && dev.IsNever() {
					continue
				}
				dev = devStatusForOwner(dev, m)
				g.addEdge(&Edge{Kind: CrossPackage, From: instCls.from, To: Id{Package: link.To, Feature: name},
					Link: link, Normal: normal, Build: build, Dev: dev})
			}
		}
	}
}

// Warnings returns every missing-feature warning collected while building g.
func (g *Graph) Warnings() []Warning { return append([]Warning(nil), g.warnings...) }

// PackageGraph returns the underlying package graph g was built from.
func (g *Graph) PackageGraph() *graph.PackageGraph { return g.pg }

// Forward returns the outgoing edges of id.
func (g *Graph) Forward(id Id) []*Edge { return append([]*Edge(nil), g.forward[id]...) }

// Reverse returns the incoming edges of id.
func (g *Graph) Reverse(id Id) []*Edge { return append([]*Edge(nil), g.reverse[id]...) }

// sortedIds returns every node id across the whole graph, sorted.
func (g *Graph) sortedIds() []Id {
	var out []Id
	for pkg, names := range g.nodes {
		for name := range names {
			out = append(out, Id{Package: pkg, Feature: name})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Package != out[j].Package {
			return out[i].Package < out[j].Package
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}
