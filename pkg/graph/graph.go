// SPDX-License-Identifier: AGPL-3.0-or-later

package graph

import (
	"fmt"
	"sort"
	"sync"
)

// Direction selects which way an edge is followed by a traversal: Forward
// follows normal "depends on" edges (from -> to); Reverse follows them
// backwards (to -> from), i.e. "depended on by".
type Direction int

const (
	Forward Direction = iota
	Reverse
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Forward {
		return Reverse
	}
	return Forward
}

// PackageGraph is the immutable, indexed dependency graph built from one
// metadata document. The SCC view is computed lazily on first access and
// cached for the graph's lifetime, using sync.Once so that concurrent
// readers racing to compute it only pay for one computation. The feature
// graph is not cached here: each feature.Build call derives a new one.
type PackageGraph struct {
	mu sync.RWMutex

	workspace Workspace
	metadata  map[PackageId]*PackageMetadata
	links     []*PackageLink

	order   []PackageId          // all package ids, sorted
	forward map[PackageId][]*PackageLink // from -> outgoing links
	reverse map[PackageId][]*PackageLink // to -> incoming links

	sccOnce   sync.Once
	sccResult *Cycles
}

func (g *PackageGraph) buildIndices() {
	g.order = make([]PackageId, 0, len(g.metadata))
	for id := range g.metadata {
		g.order = append(g.order, id)
	}
	SortPackageIds(g.order)

	g.forward = make(map[PackageId][]*PackageLink)
	g.reverse = make(map[PackageId][]*PackageLink)
	for _, l := range g.links {
		g.forward[l.From] = append(g.forward[l.From], l)
		g.reverse[l.To] = append(g.reverse[l.To], l)
	}
	for _, id := range g.order {
		sort.Slice(g.forward[id], func(i, j int) bool { return g.forward[id][i].To < g.forward[id][j].To })
		sort.Slice(g.reverse[id], func(i, j int) bool { return g.reverse[id][i].From < g.reverse[id][j].From })
	}
}

// Workspace returns the graph's workspace metadata.
func (g *PackageGraph) Workspace() *Workspace { return &g.workspace }

// PackageCount returns the number of packages (nodes) in the graph.
func (g *PackageGraph) PackageCount() int { return len(g.metadata) }

// LinkCount returns the number of dependency edges in the graph.
func (g *PackageGraph) LinkCount() int { return len(g.links) }

// Packages returns every package's metadata, in package-id order.
func (g *PackageGraph) Packages() []*PackageMetadata {
	out := make([]*PackageMetadata, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.metadata[id])
	}
	return out
}

// Metadata looks up a package's metadata by id.
func (g *PackageGraph) Metadata(id PackageId) (*PackageMetadata, error) {
	m, ok := g.metadata[id]
	if !ok {
		return nil, &LookupError{Kind: ErrUnknownPackageID, Value: string(id)}
	}
	return m, nil
}

// MetadataByWorkspaceName looks up a workspace member's metadata by name.
func (g *PackageGraph) MetadataByWorkspaceName(name string) (*PackageMetadata, error) {
	id, ok := g.workspace.MemberByName(name)
	if !ok {
		return nil, &LookupError{Kind: ErrUnknownWorkspaceName, Value: name}
	}
	return g.Metadata(id)
}

// MetadataByWorkspacePath looks up a workspace member's metadata by its
// path relative to the workspace root.
func (g *PackageGraph) MetadataByWorkspacePath(path string) (*PackageMetadata, error) {
	id, ok := g.workspace.MemberByPath(path)
	if !ok {
		return nil, &LookupError{Kind: ErrUnknownWorkspacePath, Value: path}
	}
	return g.Metadata(id)
}

// DirectLinks returns the direct edges touching id in the given direction,
// in an unspecified (but here: deterministic, "to"/"from"-sorted) order.
func (g *PackageGraph) DirectLinks(id PackageId, dir Direction) []*PackageLink {
	if dir == Forward {
		return append([]*PackageLink(nil), g.forward[id]...)
	}
	return append([]*PackageLink(nil), g.reverse[id]...)
}

// DirectlyDependsOn reports non-reflexive direct edge existence a -> b.
func (g *PackageGraph) DirectlyDependsOn(a, b PackageId) bool {
	for _, l := range g.forward[a] {
		if l.To == b {
			return true
		}
	}
	return false
}

// DependsOn is reflexive on equality, and otherwise follows reachability
// over the full graph (all edge kinds).
func (g *PackageGraph) DependsOn(a, b PackageId) bool {
	if a == b {
		return true
	}
	set, err := g.Query([]PackageId{a}, Forward).Resolve()
	if err != nil {
		return false
	}
	return set.Contains(b)
}

// RetainEdges filters the graph's edges in place by predicate, invalidating
// the cached SCC view. A feature graph built from this PackageGraph before
// the call keeps the edges it copied at build time; only a later
// feature.Build call sees the filtered edges.
func (g *PackageGraph) RetainEdges(keep func(*PackageLink) bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	filtered := g.links[:0:0]
	for _, l := range g.links {
		if keep(l) {
			filtered = append(filtered, l)
		}
	}
	g.links = filtered
	g.buildIndices()
	g.sccOnce = sync.Once{}
	g.sccResult = nil
}

// Verify re-checks every graph invariant and returns every violation found
// (not just the first). A non-empty result indicates a bug in ingest, not
// bad input -- callers should treat it as fatal.
func (g *PackageGraph) Verify() []*InternalError {
	var errs []*InternalError

	for _, l := range g.links {
		to, ok := g.metadata[l.To]
		if !ok {
			errs = append(errs, &InternalError{Reason: fmt.Sprintf("edge to unknown package %q", l.To)})
			continue
		}
		if !l.VersionReq.Accepts(to.Version) {
			errs = append(errs, &InternalError{Reason: fmt.Sprintf(
				"edge %s -> %s: requirement %q does not accept resolved version %q",
				l.From, l.To, l.VersionReq, to.Version)})
		}
		if !l.IsValid() {
			errs = append(errs, &InternalError{Reason: fmt.Sprintf(
				"edge %s -> %s (%s) has no active kind requirement", l.From, l.To, l.DepName)})
		}
	}

	for _, t := range g.workspace.MemberIds() {
		byName, ok := g.workspace.byName[g.metadata[t].Name]
		if !ok || byName != t {
			errs = append(errs, &InternalError{Reason: fmt.Sprintf(
				"workspace name index inconsistent for %q", t)})
		}
	}

	for _, m := range g.metadata {
		for _, bt := range m.Targets {
			if err := bt.Validate(); err != nil {
				errs = append(errs, &InternalError{Reason: err.Error()})
			}
		}
	}

	return errs
}
