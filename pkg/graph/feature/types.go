// SPDX-License-Identifier: AGPL-3.0-or-later

// Package feature implements the feature graph: a derived
// view of a package graph in which each node is a (package, feature) pair
// rather than a bare package, letting feature activation be resolved as
// ordinary graph reachability.
package feature

import (
	"fmt"

	"cargograph/pkg/graph"
	"cargograph/pkg/platform"
)

// Id identifies one node: a package's "base" node (Feature == "") or one of
// its named/optional-dependency feature nodes.
type Id struct {
	Package graph.PackageId
	Feature string
}

// IsBase reports whether id names a package's base node.
func (id Id) IsBase() bool { return id.Feature == "" }

func (id Id) String() string {
	if id.IsBase() {
		return string(id.Package)
	}
	return fmt.Sprintf("%s/%s", id.Package, id.Feature)
}

// EdgeKind classifies a feature-graph edge.
type EdgeKind int

const (
	// FeatureToBase connects a named feature node to its package's base node.
	FeatureToBase EdgeKind = iota
	// FeatureDependency connects a feature to another feature within the same
	// package (an activation string with no "/").
	FeatureDependency
	// CrossPackage connects a feature (or base) node to a feature (or base)
	// node of a directly-depended-on package.
	CrossPackage
)

// Edge is one directed feature-graph edge. Normal/Build/Dev are meaningful
// only for CrossPackage edges, mirroring the originating package edge's
// per-kind platform gating; Link points back at that package edge.
type Edge struct {
	Kind EdgeKind
	From Id
	To   Id

	Link   *graph.PackageLink
	Normal platform.PlatformStatus
	Build  platform.PlatformStatus
	Dev    platform.PlatformStatus
}

// WarningStage names where a missing-feature warning was produced.
type WarningStage int

const (
	WarningIntraPackage WarningStage = iota
	WarningCrossPackage
)

// Warning records a feature activation string that could not be resolved:
// the build proceeds (matching Cargo's own leniency for optional/cfg-gated
// deps) but the gap is reported rather than silently dropped.
type Warning struct {
	Stage       WarningStage
	Package     graph.PackageId
	FeatureName string // the defining feature, if any ("" for default-edge warnings)
	Activation  string // the unresolved activation string
}
