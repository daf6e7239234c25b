// SPDX-License-Identifier: AGPL-3.0-or-later

// Package determinator implements the change-impact analyzer:
// given a set of changed file paths and an old/new pair of package graphs, it
// computes which workspace packages are "affected" and therefore need a
// rebuild or a re-test, consuming the package graph, feature resolver, and
// build-summary packages.
package determinator

import (
	"path"
	"sort"
	"strings"

	"cargograph/pkg/determinator/rules"
	"cargograph/pkg/graph"
	"cargograph/pkg/graph/feature"
	"cargograph/pkg/resolver"
	"cargograph/pkg/summary"
)

// edgeTag classifies a reverse-index edge for the no-two-consecutive-
// CargoBuild-edges traversal rule.
type edgeTag int

const (
	tagCargoBuild edgeTag = iota
	tagPackageRule
)

// Set is the result of a determination run.
type Set struct {
	// PathChanged holds workspace packages whose manifest directory (or an
	// applicable path-rule) directly covers a changed path.
	PathChanged map[graph.PackageId]bool
	// SummaryChanged holds workspace packages whose resolved build summary
	// differs between old and new, despite no path rule marking them.
	SummaryChanged map[graph.PackageId]bool
	// Affected is the full affected closure: PathChanged and SummaryChanged,
	// plus anything reachable through the reverse dependency index subject
	// to the no-two-consecutive-CargoBuild-edges rule.
	Affected map[graph.PackageId]bool
}

// Options controls the build-summary comparison phase.
type Options struct {
	Resolver resolver.Options
}

// Determine runs the five-phase algorithm: path-rule matching, ancestor-path
// matching, build-summary diffing, reverse-index construction, and affected
// closure.
func Determine(oldGraph, newGraph *graph.PackageGraph, changedPaths []string, rs *rules.Rules, opts Options) (*Set, error) {
	if rs == nil {
		rs = rules.DefaultRules()
	}

	nameToID := make(map[string]graph.PackageId)
	for _, id := range newGraph.Workspace().MemberIds() {
		m, err := newGraph.Metadata(id)
		if err != nil {
			return nil, err
		}
		nameToID[m.Name] = id
	}

	run := &detRun{
		oldGraph: oldGraph, newGraph: newGraph, rules: rs, nameToID: nameToID,
		pathChanged: map[graph.PackageId]bool{},
	}
	for _, p := range changedPaths {
		run.processPath(p)
		if run.wholeWorkspace {
			break
		}
	}

	allMembers := newGraph.Workspace().MemberIds()
	if run.wholeWorkspace {
		all := idSet(allMembers)
		return &Set{PathChanged: all, SummaryChanged: map[graph.PackageId]bool{}, Affected: all}, nil
	}

	summaryChanged, err := diffSummaries(oldGraph, newGraph, run.pathChanged, opts.Resolver)
	if err != nil {
		return nil, err
	}

	revIndex, wholeFromPackageRules, err := buildReverseIndex(newGraph, rs, nameToID, opts.Resolver)
	if err != nil {
		return nil, err
	}

	affected := closeAffected(run.pathChanged, summaryChanged, revIndex)

	if wholeFromPackageRules(affected) {
		all := idSet(allMembers)
		return &Set{PathChanged: run.pathChanged, SummaryChanged: summaryChanged, Affected: all}, nil
	}

	return &Set{PathChanged: run.pathChanged, SummaryChanged: summaryChanged, Affected: affected}, nil
}

func idSet(ids []graph.PackageId) map[graph.PackageId]bool {
	out := make(map[graph.PackageId]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

// detRun carries per-invocation path-phase state.
type detRun struct {
	oldGraph, newGraph *graph.PackageGraph
	rules              *rules.Rules
	nameToID           map[string]graph.PackageId

	pathChanged    map[graph.PackageId]bool
	wholeWorkspace bool
}

// processPath runs phase 1 (path rules) then, unless a rule said to stop,
// phase 2 (nearest-ancestor-member matching) for a single changed path.
func (r *detRun) processPath(p string) {
	terminal := false
	ruleMatched := false

ruleScan:
	for _, pr := range r.rules.PathRules {
		matched := false
		for _, g := range pr.Globs {
			if g.Match(p) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		ruleMatched = true

		if pr.MarkChanged.All {
			r.wholeWorkspace = true
			return
		}
		for _, name := range pr.MarkChanged.Names {
			if id, ok := r.nameToID[name]; ok {
				r.pathChanged[id] = true
			}
		}

		switch pr.PostRule {
		case rules.PostSkip:
			terminal = true
			break ruleScan
		case rules.PostSkipRules:
			break ruleScan
		case rules.PostFallthrough:
			// keep scanning subsequent rules against the same path
		}
	}

	if terminal {
		return
	}
	if id, ok := nearestAncestorMember(r.newGraph, p); ok {
		r.pathChanged[id] = true
		return
	}
	if !ruleMatched {
		r.wholeWorkspace = true
	}
}

// nearestAncestorMember finds the workspace member whose manifest directory
// is the longest matching ancestor of p.
func nearestAncestorMember(g *graph.PackageGraph, p string) (graph.PackageId, bool) {
	clean := strings.TrimPrefix(path.Clean("/"+filepathToSlash(p)), "/")

	var best graph.PackageId
	bestLen := -1
	found := false
	for _, id := range g.Workspace().MemberIds() {
		m, err := g.Metadata(id)
		if err != nil {
			continue
		}
		rel := strings.TrimPrefix(path.Clean("/"+filepathToSlash(m.Source.RelPath)), "/")
		match := rel == "." && bestLen < 0
		if rel != "." {
			match = clean == rel || strings.HasPrefix(clean, rel+"/")
		}
		if match {
			l := len(rel)
			if rel == "." {
				l = 0
			}
			if l > bestLen {
				best, bestLen, found = id, l, true
			}
		}
	}
	return best, found
}

func filepathToSlash(s string) string { return strings.ReplaceAll(s, "\\", "/") }

// diffSummaries runs phase 3: for every workspace member not already marked
// path-changed, resolve None/Default/All feature selections against both
// graphs and compare the resulting summaries.
func diffSummaries(oldGraph, newGraph *graph.PackageGraph, pathChanged map[graph.PackageId]bool, ropts resolver.Options) (map[graph.PackageId]bool, error) {
	out := map[graph.PackageId]bool{}

	newFG, err := feature.Build(newGraph)
	if err != nil {
		return nil, err
	}

	var oldFG *feature.Graph
	if oldGraph != nil {
		oldFG, err = feature.Build(oldGraph)
		if err != nil {
			return nil, err
		}
	}

	selections := []resolver.Selection{resolver.None(), resolver.Default(), resolver.All()}

	for _, id := range newGraph.Workspace().MemberIds() {
		if pathChanged[id] {
			continue
		}
		m, err := newGraph.Metadata(id)
		if err != nil {
			return nil, err
		}
		oldId, ok := findByName(oldGraph, m.Name)
		if !ok {
			out[id] = true // newly added workspace member: always considered changed
			continue
		}

		changed := false
		for _, sel := range selections {
			newCS := resolver.Resolve(newFG, resolver.Initials{id: sel}, ropts)
			newSummary := summary.FromCargoSet(newFG, newCS, resolver.Initials{id: sel}, ropts)

			oldCS := resolver.Resolve(oldFG, resolver.Initials{oldId: sel}, ropts)
			oldSummary := summary.FromCargoSet(oldFG, oldCS, resolver.Initials{oldId: sel}, ropts)

			if !summary.DiffSide(oldSummary, newSummary).IsEmpty() {
				changed = true
				break
			}
		}
		if changed {
			out[id] = true
		}
	}
	return out, nil
}

func findByName(g *graph.PackageGraph, name string) (graph.PackageId, bool) {
	if g == nil {
		return "", false
	}
	for _, id := range g.Workspace().MemberIds() {
		m, err := g.Metadata(id)
		if err == nil && m.Name == name {
			return id, true
		}
	}
	return "", false
}

// buildReverseIndex runs phase 4: for each workspace member, simulate a
// default-features build and record every other package reached as a
// CargoBuild-tagged reverse edge (dep -> dependent); package rules then
// overlay PackageRule-tagged edges that take priority. It returns the index
// plus a closure that reports whether any all-workspace package rule fired
// given a resulting affected set.
func buildReverseIndex(g *graph.PackageGraph, rs *rules.Rules, nameToID map[string]graph.PackageId, ropts resolver.Options) (map[graph.PackageId]map[graph.PackageId]edgeTag, func(affected map[graph.PackageId]bool) bool, error) {
	fg, err := feature.Build(g)
	if err != nil {
		return nil, nil, err
	}

	idx := make(map[graph.PackageId]map[graph.PackageId]edgeTag)
	setEdge := func(dep, dependent graph.PackageId, tag edgeTag) {
		if idx[dep] == nil {
			idx[dep] = make(map[graph.PackageId]edgeTag)
		}
		if tag == tagPackageRule {
			idx[dep][dependent] = tagPackageRule
			return
		}
		if _, exists := idx[dep][dependent]; !exists {
			idx[dep][dependent] = tagCargoBuild
		}
	}

	for _, id := range g.Workspace().MemberIds() {
		cs := resolver.Resolve(fg, resolver.Initials{id: resolver.Default()}, ropts)
		for fid := range cs.TargetFeatures {
			if fid.Package != id {
				setEdge(fid.Package, id, tagCargoBuild)
			}
		}
		for fid := range cs.HostFeatures {
			if fid.Package != id {
				setEdge(fid.Package, id, tagCargoBuild)
			}
		}
	}

	var allRuleSources []graph.PackageId
	for _, pr := range rs.PackageRules {
		if pr.MarkChanged.All {
			for _, name := range pr.OnAffected {
				if id, ok := nameToID[name]; ok {
					allRuleSources = append(allRuleSources, id)
				}
			}
			continue
		}
		for _, srcName := range pr.OnAffected {
			srcID, ok := nameToID[srcName]
			if !ok {
				continue
			}
			for _, dstName := range pr.MarkChanged.Names {
				if dstID, ok := nameToID[dstName]; ok {
					setEdge(srcID, dstID, tagPackageRule)
				}
			}
		}
	}

	checkAll := func(affected map[graph.PackageId]bool) bool {
		for _, id := range allRuleSources {
			if affected[id] {
				return true
			}
		}
		return false
	}
	return idx, checkAll, nil
}

// TransitiveDependents returns every workspace package that directly or
// transitively depends on root through a default-features build, sorted
// lexicographically for deterministic output. Unlike Determine's affected
// closure, this ignores path rules and the no-two-consecutive-CargoBuild
// restriction entirely: it answers the simpler question "if root's own code
// changes, which packages would eventually need a rebuild," useful as a
// standalone impact query independent of any actual file change.
func TransitiveDependents(g *graph.PackageGraph, root graph.PackageId, ropts resolver.Options) ([]graph.PackageId, error) {
	fg, err := feature.Build(g)
	if err != nil {
		return nil, err
	}
	if _, err := g.Metadata(root); err != nil {
		return nil, err
	}

	dependents := make(map[graph.PackageId][]graph.PackageId)
	for _, id := range g.Workspace().MemberIds() {
		cs := resolver.Resolve(fg, resolver.Initials{id: resolver.Default()}, ropts)
		reached := map[graph.PackageId]bool{}
		for fid := range cs.TargetFeatures {
			reached[fid.Package] = true
		}
		for fid := range cs.HostFeatures {
			reached[fid.Package] = true
		}
		for dep := range reached {
			if dep != id {
				dependents[dep] = append(dependents[dep], id)
			}
		}
	}

	visited := map[graph.PackageId]bool{}
	var collect func(id graph.PackageId)
	collect = func(id graph.PackageId) {
		for _, dependent := range dependents[id] {
			if !visited[dependent] {
				visited[dependent] = true
				collect(dependent)
			}
		}
	}
	collect(root)

	result := make([]graph.PackageId, 0, len(visited))
	for id := range visited {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

// closeAffected runs phase 5: a DFS over the reverse index starting from
// path-changed (CargoBuild allowed once) and summary-changed (CargoBuild not
// allowed) seeds, forbidding two consecutive CargoBuild-tagged edges in any
// path.
func closeAffected(pathChanged, summaryChanged map[graph.PackageId]bool, revIndex map[graph.PackageId]map[graph.PackageId]edgeTag) map[graph.PackageId]bool {
	affected := map[graph.PackageId]bool{}

	type state struct {
		visited bool
		allowed bool
	}
	seen := map[graph.PackageId]*state{}

	var visit func(id graph.PackageId, allowed bool)
	visit = func(id graph.PackageId, allowed bool) {
		affected[id] = true
		st, ok := seen[id]
		if !ok {
			st = &state{}
			seen[id] = st
		}
		if st.visited && (!allowed || st.allowed) {
			return
		}
		st.visited = true
		if allowed {
			st.allowed = true
		}
		for dependent, tag := range revIndex[id] {
			if tag == tagCargoBuild && !allowed {
				continue
			}
			nextAllowed := tag == tagPackageRule && allowed
			visit(dependent, nextAllowed)
		}
	}

	for id := range pathChanged {
		visit(id, true)
	}
	for id := range summaryChanged {
		visit(id, false)
	}
	return affected
}
