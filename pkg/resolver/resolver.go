// SPDX-License-Identifier: AGPL-3.0-or-later

// Package resolver simulates the package manager's feature-unification
// build plan: given an initial feature selection per package,
// a platform pair, and a set of options, it computes the closed set of
// (package, feature) pairs that would be compiled for the target and host
// platforms.
package resolver

import (
	"cargograph/pkg/graph"
	"cargograph/pkg/graph/feature"
	"cargograph/pkg/platform"
)

// StandardFeatures selects a package's built-in feature shorthand.
type StandardFeatures int

const (
	FeaturesNone StandardFeatures = iota
	FeaturesDefault
	FeaturesAll
	FeaturesOnly // an explicit named subset, carried in Selection.Names
)

// Selection is one initial package's feature request.
type Selection struct {
	Standard StandardFeatures
	Names    []string // meaningful only when Standard == FeaturesOnly
}

// Default is the common "build with default features" selection.
func Default() Selection { return Selection{Standard: FeaturesDefault} }

// All is the "build with every feature" selection.
func All() Selection { return Selection{Standard: FeaturesAll} }

// None is the "build with no optional features" selection.
func None() Selection { return Selection{Standard: FeaturesNone} }

// Only is an explicit named-feature-subset selection.
func Only(names ...string) Selection { return Selection{Standard: FeaturesOnly, Names: names} }

// Initials maps each initial (root) package id to its feature selection.
type Initials map[graph.PackageId]Selection

// ResolverVersion selects which cross-platform unification mode to simulate.
type ResolverVersion int

const (
	// ResolverV1 unifies target and host feature-sets by dependency kind,
	// with platform filtering applied after the union: once a package's
	// base and feature ids have been routed to a side by kind, any package
	// that ends up activated on both sides has its two feature sets merged
	// together, so a feature a build-dependency edge enables on host also
	// applies to the same package's normal-dependency instance on target.
	ResolverV1 ResolverVersion = iota
	// ResolverV2 applies platform filtering first and keeps target-gated
	// feature sets separate from always-applicable ones: a package
	// activated on both sides keeps two independent feature sets, with no
	// merging between them.
	ResolverV2
)

// InitialsPlatform selects which side (target or host) initial packages are
// planted on.
type InitialsPlatform int

const (
	InitialsOnTarget InitialsPlatform = iota
	InitialsOnHost
)

// Options configures one Resolve call's feature-unification behavior.
type Options struct {
	IncludeDev       bool
	TargetPlatform   *platform.Platform
	HostPlatform     *platform.Platform
	ResolverVersion  ResolverVersion
	InitialsPlatform InitialsPlatform

	// OmittedPackages are skipped as if they and their outgoing edges did not
	// exist (Hakari uses this for its own synthetic package id).
	OmittedPackages map[graph.PackageId]bool

	// FeaturesOnly participants are unified into both sides' feature-sets
	// but are never themselves treated as initials.
	FeaturesOnly map[graph.PackageId]bool
}

func (o Options) isOmitted(id graph.PackageId) bool { return o.OmittedPackages[id] }

// CargoSet is the resolved build plan: the enabled (package, feature) pairs
// on each side.
type CargoSet struct {
	TargetFeatures map[feature.Id]bool
	HostFeatures   map[feature.Id]bool
}

// EnabledOnTarget reports whether id is enabled in the target build.
func (s *CargoSet) EnabledOnTarget(id feature.Id) bool { return s.TargetFeatures[id] }

// EnabledOnHost reports whether id is enabled in the host build.
func (s *CargoSet) EnabledOnHost(id feature.Id) bool { return s.HostFeatures[id] }

type frontier struct {
	enabled map[feature.Id]bool
	queue   []feature.Id
}

func newFrontier() *frontier { return &frontier{enabled: make(map[feature.Id]bool)} }

func (f *frontier) enqueue(id feature.Id) {
	if f.enabled[id] {
		return
	}
	f.enabled[id] = true
	f.queue = append(f.queue, id)
}

// Resolve runs the two-sided feature propagation algorithm and returns the
// resulting CargoSet. It terminates because each (package,
// feature, side) tuple is enqueued at most once -- a monotonic closure over
// a finite lattice.
func Resolve(fg *feature.Graph, initials Initials, opts Options) *CargoSet {
	target := newFrontier()
	host := newFrontier()

	plantInitials(fg, initials, opts, target, host)
	for id := range opts.FeaturesOnly {
		if opts.isOmitted(id) {
			continue
		}
		target.enqueue(feature.Id{Package: id})
		host.enqueue(feature.Id{Package: id})
	}

	// Process both frontiers to a joint fixed point: each step may add to
	// the other side (build/proc-macro edges cross onto host), so iterate
	// until neither queue produces anything new.
	for len(target.queue) > 0 || len(host.queue) > 0 {
		for len(target.queue) > 0 {
			cur := target.queue[0]
			target.queue = target.queue[1:]
			propagate(fg, cur, true, opts, target, host)
		}
		for len(host.queue) > 0 {
			cur := host.queue[0]
			host.queue = host.queue[1:]
			propagate(fg, cur, false, opts, target, host)
		}
	}

	cs := &CargoSet{TargetFeatures: target.enabled, HostFeatures: host.enabled}
	if opts.ResolverVersion == ResolverV1 {
		unifyAcrossSides(cs)
	}
	return cs
}

// unifyAcrossSides implements ResolverV1's "platform filtering applied after
// the union" rule: for every package activated on both sides, the union of
// its enabled feature names is applied back to both sides, so the two sides
// no longer disagree about that package's feature set. ResolverV2 never
// calls this -- its two sides stay independent.
func unifyAcrossSides(cs *CargoSet) {
	byPkg := make(map[graph.PackageId]map[string]bool)
	collect := func(m map[feature.Id]bool) {
		for id := range m {
			if byPkg[id.Package] == nil {
				byPkg[id.Package] = make(map[string]bool)
			}
			if id.Feature != "" {
				byPkg[id.Package][id.Feature] = true
			}
		}
	}
	collect(cs.TargetFeatures)
	collect(cs.HostFeatures)

	for pkgID, names := range byPkg {
		base := feature.Id{Package: pkgID}
		_, onTarget := cs.TargetFeatures[base]
		_, onHost := cs.HostFeatures[base]
		if !onTarget || !onHost {
			continue
		}
		for name := range names {
			cs.TargetFeatures[feature.Id{Package: pkgID, Feature: name}] = true
			cs.HostFeatures[feature.Id{Package: pkgID, Feature: name}] = true
		}
	}
}

func plantInitials(fg *feature.Graph, initials Initials, opts Options, target, host *frontier) {
	dst := target
	if opts.InitialsPlatform == InitialsOnHost {
		dst = host
	}
	pg := fg.PackageGraph()
	for pkgID, sel := range initials {
		if opts.isOmitted(pkgID) {
			continue
		}
		dst.enqueue(feature.Id{Package: pkgID})
		m, err := pg.Metadata(pkgID)
		if err != nil {
			continue
		}
		switch sel.Standard {
		case FeaturesDefault:
			if m.HasDefaultFeature {
				dst.enqueue(feature.Id{Package: pkgID, Feature: "default"})
			}
		case FeaturesAll:
			for name := range m.Features {
				if name != "" {
					dst.enqueue(feature.Id{Package: pkgID, Feature: name})
				}
			}
		case FeaturesOnly:
			for _, name := range sel.Names {
				dst.enqueue(feature.Id{Package: pkgID, Feature: name})
			}
		}
	}
}

func enabledOrUnknown(status platform.PlatformStatus, p *platform.Platform) bool {
	if status.IsNever() {
		return false
	}
	return platform.EvalStatus(status, p) != platform.Disabled
}

func isProcMacro(pg *graph.PackageGraph, id graph.PackageId) bool {
	m, err := pg.Metadata(id)
	if err != nil {
		return false
	}
	for _, t := range m.Targets {
		if t.Kind == graph.CrateProcMacro {
			return true
		}
	}
	return false
}

// propagate follows every outgoing feature-graph edge of cur, which is
// currently enabled on the side indicated by isTargetSide.
func propagate(fg *feature.Graph, cur feature.Id, isTargetSide bool, opts Options, target, host *frontier) {
	pg := fg.PackageGraph()
	sideFrontier := target
	sidePlatform := opts.TargetPlatform
	if !isTargetSide {
		sideFrontier = host
		sidePlatform = opts.HostPlatform
	}

	for _, e := range fg.Forward(cur) {
		if opts.isOmitted(e.To.Package) {
			continue
		}
		switch e.Kind {
		case feature.FeatureToBase, feature.FeatureDependency:
			sideFrontier.enqueue(e.To)
			continue
		}

		// CrossPackage: normal and dev edges stay on the originating side;
		// build edges always cross onto the host side; a proc-macro target
		// crosses onto the host side instead of its originating side, but
		// only when the edge's own normal-kind status says it is actually
		// active for this platform pair.
		normalActive := !e.Normal.IsNever() && enabledOrUnknown(e.Normal, sidePlatform)
		if normalActive {
			if isProcMacro(pg, e.To.Package) {
				host.enqueue(e.To)
			} else {
				sideFrontier.enqueue(e.To)
			}
		}
		if !e.Build.IsNever() && enabledOrUnknown(e.Build, opts.HostPlatform) {
			host.enqueue(e.To)
		}
		if isTargetSide && opts.IncludeDev && !e.Dev.IsNever() && enabledOrUnknown(e.Dev, opts.TargetPlatform) {
			target.enqueue(e.To)
		}
	}
}
