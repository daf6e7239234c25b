// SPDX-License-Identifier: AGPL-3.0-or-later

// Package graph implements the package dependency graph: a
// typed, indexed, directed graph over Cargo packages with rich per-kind
// platform-gated edges, traversal queries, and cycle/SCC analysis.
package graph

import (
	"fmt"
	"sort"

	"cargograph/pkg/platform"
	"cargograph/pkg/semverx"
)

// PackageId is the metadata document's opaque, totally ordered package
// identity. It is a value type: stable within one metadata document, not
// across regenerations.
type PackageId string

// Less provides the total order used throughout the graph (lexicographic on
// the underlying string).
func (id PackageId) Less(other PackageId) bool { return id < other }

// SortPackageIds sorts ids in place using PackageId's total order.
func SortPackageIds(ids []PackageId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// SourceKind classifies where a package came from.
type SourceKind int

const (
	SourceWorkspace SourceKind = iota
	SourcePath
	SourceExternal
)

// ExternalKind further classifies a SourceExternal's source string.
type ExternalKind int

const (
	ExternalRegistry ExternalKind = iota
	ExternalGit
	ExternalUnparsed
)

// GitReqKind is the kind of git reference pin recorded on a git source.
type GitReqKind int

const (
	GitReqDefault GitReqKind = iota
	GitReqBranch
	GitReqTag
	GitReqRev
)

// PackageSource is a tagged union over where a package came from: a
// workspace member, a local path dependency, or an external (registry/git)
// source.
type PackageSource struct {
	Kind SourceKind

	// RelPath is set for Workspace and Path sources: the path relative to
	// the workspace root.
	RelPath string

	// The following are set only for Kind == SourceExternal.
	External     string // the raw, round-trippable source string
	ExternalKind ExternalKind

	RegistryURL string // set when ExternalKind == ExternalRegistry

	GitRepository   string     // set when ExternalKind == ExternalGit
	GitReqKind      GitReqKind // Branch|Tag|Rev|Default
	GitReqValue     string     // branch/tag/rev name; empty for Default
	GitResolvedRev  string     // the "#<resolved-commit>" suffix
}

// ParseExternalSource parses a raw external source string:
//
//	registry+<url>                                            -> Registry(url)
//	git+<repository>[?branch=<b>|?tag=<t>|?rev=<r>]#<commit>  -> Git{...}
//	anything else                                             -> unparsed external
//
// The result round-trips: ParseExternalSource(s).String() == s for every
// recognized form.
func ParseExternalSource(raw string) PackageSource {
	src := PackageSource{Kind: SourceExternal, External: raw}

	switch {
	case len(raw) > len("registry+") && raw[:len("registry+")] == "registry+":
		src.ExternalKind = ExternalRegistry
		src.RegistryURL = raw[len("registry+"):]
		return src
	case len(raw) > len("git+") && raw[:len("git+")] == "git+":
		src.ExternalKind = ExternalGit
		rest := raw[len("git+"):]

		// Split off "#<resolved-commit>" first (present at most once, at the end).
		repoAndQuery := rest
		if i := lastIndexByte(rest, '#'); i >= 0 {
			src.GitResolvedRev = rest[i+1:]
			repoAndQuery = rest[:i]
		}

		repo := repoAndQuery
		src.GitReqKind = GitReqDefault
		if i := indexByte(repoAndQuery, '?'); i >= 0 {
			repo = repoAndQuery[:i]
			query := repoAndQuery[i+1:]
			switch {
			case len(query) > len("branch=") && query[:len("branch=")] == "branch=":
				src.GitReqKind = GitReqBranch
				src.GitReqValue = query[len("branch="):]
			case len(query) > len("tag=") && query[:len("tag=")] == "tag=":
				src.GitReqKind = GitReqTag
				src.GitReqValue = query[len("tag="):]
			case len(query) > len("rev=") && query[:len("rev=")] == "rev=":
				src.GitReqKind = GitReqRev
				src.GitReqValue = query[len("rev="):]
			}
		}
		src.GitRepository = repo
		return src
	default:
		src.ExternalKind = ExternalUnparsed
		return src
	}
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// String reconstructs the original source string for an External source;
// for Workspace/Path sources it returns the relative path.
func (s PackageSource) String() string {
	switch s.Kind {
	case SourceWorkspace, SourcePath:
		return s.RelPath
	case SourceExternal:
		if s.ExternalKind != ExternalUnparsed {
			return s.rebuild()
		}
		return s.External
	default:
		return ""
	}
}

func (s PackageSource) rebuild() string {
	switch s.ExternalKind {
	case ExternalRegistry:
		return "registry+" + s.RegistryURL
	case ExternalGit:
		out := "git+" + s.GitRepository
		switch s.GitReqKind {
		case GitReqBranch:
			out += "?branch=" + s.GitReqValue
		case GitReqTag:
			out += "?tag=" + s.GitReqValue
		case GitReqRev:
			out += "?rev=" + s.GitReqValue
		}
		if s.GitResolvedRev != "" {
			out += "#" + s.GitResolvedRev
		}
		return out
	default:
		return s.External
	}
}

// IsThirdParty reports whether the source is external (not workspace/path).
func (s PackageSource) IsThirdParty() bool { return s.Kind == SourceExternal }

// InWorkspace reports whether the source is a workspace member.
func (s PackageSource) InWorkspace() bool { return s.Kind == SourceWorkspace }

// DependencyKind is normal, build, or dev.
type DependencyKind int

const (
	DepNormal DependencyKind = iota
	DepBuild
	DepDev
)

func (k DependencyKind) String() string {
	switch k {
	case DepNormal:
		return "normal"
	case DepBuild:
		return "build"
	default:
		return "dev"
	}
}

// PlatformReq is one half (required or optional) of a DependencyReq.
type PlatformReq struct {
	BuildIf             platform.PlatformStatus
	DefaultFeaturesIf   platform.PlatformStatus
	NoDefaultFeaturesIf platform.PlatformStatus
	FeatureTargets      map[string]platform.PlatformStatus
}

// IsNever reports whether this half of the requirement is never active.
func (r PlatformReq) IsNever() bool { return r.BuildIf.IsNever() }

// DependencyReq splits a dependency requirement (for one DependencyKind)
// into its required and optional halves.
type DependencyReq struct {
	Required PlatformReq
	Optional PlatformReq
}

// IsPresent reports whether either half of the requirement is ever active.
func (r DependencyReq) IsPresent() bool {
	return !r.Required.IsNever() || !r.Optional.IsNever()
}

// PackageLink is a directed edge between two packages.
type PackageLink struct {
	From, To PackageId

	// DepName is the name as declared in the manifest; ResolvedName is the
	// (possibly renamed) name used to resolve features, hyphens replaced by
	// underscores.
	DepName      string
	ResolvedName string

	VersionReq semverx.Req

	Normal DependencyReq
	Build  DependencyReq
	Dev    DependencyReq
}

// ReqForKind returns the DependencyReq for a given DependencyKind.
func (l *PackageLink) ReqForKind(kind DependencyKind) DependencyReq {
	switch kind {
	case DepBuild:
		return l.Build
	case DepDev:
		return l.Dev
	default:
		return l.Normal
	}
}

// IsValid checks invariant 2: at least one of the three
// kind-requirements must be present.
func (l *PackageLink) IsValid() bool {
	return l.Normal.IsPresent() || l.Build.IsPresent() || l.Dev.IsPresent()
}

// PublishPolicy describes which registries a package may be published to.
type PublishPolicy struct {
	Unrestricted bool
	Registries   []string // meaningful only when !Unrestricted
}

// FeatureValue is one entry in a package's feature table: either a named
// feature (a list of activation strings) or an implicit optional-dependency
// feature (recognized by IsOptionalDep, with no activation list of its own).
type FeatureValue struct {
	IsOptionalDep bool
	Activations   []string
}

// BuildTargetIdKind enumerates the kinds of build target id.
type BuildTargetIdKind int

const (
	TargetLibrary BuildTargetIdKind = iota
	TargetBuildScript
	TargetBinary
	TargetExample
	TargetTest
	TargetBenchmark
)

// BuildTargetId identifies one build target of a package.
type BuildTargetId struct {
	Kind BuildTargetIdKind
	Name string // meaningful for Binary/Example/Test/Benchmark
}

func (id BuildTargetId) String() string {
	switch id.Kind {
	case TargetLibrary:
		return "lib"
	case TargetBuildScript:
		return "build-script"
	case TargetBinary:
		return "bin:" + id.Name
	case TargetExample:
		return "example:" + id.Name
	case TargetTest:
		return "test:" + id.Name
	default:
		return "bench:" + id.Name
	}
}

// CrateKind describes the compiled artifact kind of a build target.
type CrateKind int

const (
	// CrateLibraryOrExample carries a crate-type set (e.g. {"lib"}, {"cdylib"}).
	CrateLibraryOrExample CrateKind = iota
	CrateProcMacro
	CrateBinary
)

// BuildTarget is one compilable unit of a package.
type BuildTarget struct {
	Id               BuildTargetId
	Kind             CrateKind
	CrateTypes       []string // meaningful when Kind == CrateLibraryOrExample
	LibName          string
	RequiredFeatures []string
	SourcePath       string
	Edition          string
	DocTests         bool
}

// Validate enforces the id/kind pairing invariant:
// Library may be lib/example/procmacro; Example may be lib/example only;
// everything else must be binary.
func (t BuildTarget) Validate() error {
	switch t.Id.Kind {
	case TargetLibrary:
		if t.Kind != CrateLibraryOrExample && t.Kind != CrateProcMacro {
			return fmt.Errorf("library target %q has invalid crate kind", t.Id)
		}
	case TargetExample:
		if t.Kind != CrateLibraryOrExample {
			return fmt.Errorf("example target %q must be lib/example kind", t.Id)
		}
	default:
		if t.Kind != CrateBinary {
			return fmt.Errorf("target %q must be a binary", t.Id)
		}
	}
	return nil
}

// PackageMetadata is the immutable per-package record.
type PackageMetadata struct {
	Id          PackageId
	Name        string
	Version     semverx.Version
	Authors     []string
	Description string
	License     string
	LicenseFile string
	ManifestPath string
	Categories  []string
	Keywords    []string
	Readme      string
	Repository  string
	Edition     string
	MetadataTable map[string]any
	Links       string
	Publish     PublishPolicy

	Features map[string]FeatureValue

	Source PackageSource
	Targets []BuildTarget

	HasDefaultFeature bool

	// ResolvedDeps/ResolvedFeatures come straight from the metadata
	// document's resolve.nodes entry for this package.
	ResolvedDeps     []PackageId
	ResolvedFeatures []string
}

// IsThirdParty is a convenience predicate mirroring PackageSource.IsThirdParty.
func (m *PackageMetadata) IsThirdParty() bool { return m.Source.IsThirdParty() }

// InWorkspace is a convenience predicate mirroring PackageSource.InWorkspace.
func (m *PackageMetadata) InWorkspace() bool { return m.Source.InWorkspace() }

// Workspace is the root path plus the two sorted, bijective indices over
// workspace member package ids.
type Workspace struct {
	Root string

	byPath map[string]PackageId
	byName map[string]PackageId
	members map[PackageId]bool
}

// RootDir returns the workspace root path.
func (w *Workspace) RootDir() string { return w.Root }

// MemberByPath looks up a workspace member by its path relative to the root.
func (w *Workspace) MemberByPath(path string) (PackageId, bool) {
	id, ok := w.byPath[path]
	return id, ok
}

// MemberByName looks up a workspace member by package name.
func (w *Workspace) MemberByName(name string) (PackageId, bool) {
	id, ok := w.byName[name]
	return id, ok
}

// IsMember reports whether id is a workspace member.
func (w *Workspace) IsMember(id PackageId) bool { return w.members[id] }

// MemberIds returns all workspace member ids in sorted order.
func (w *Workspace) MemberIds() []PackageId {
	ids := make([]PackageId, 0, len(w.members))
	for id := range w.members {
		ids = append(ids, id)
	}
	SortPackageIds(ids)
	return ids
}
