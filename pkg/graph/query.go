// SPDX-License-Identifier: AGPL-3.0-or-later

package graph

// IsDevOnly reports whether a link is active solely through a dev
// dependency requirement (used to build the acyclic "release" view for SCCs
// and topological sort).
func (l *PackageLink) IsDevOnly() bool {
	return l.Dev.IsPresent() && !l.Normal.IsPresent() && !l.Build.IsPresent()
}

// PackageQuery remembers a set of initial package ids and a traversal
// direction; Resolve() performs the transitive closure.
type PackageQuery struct {
	g        *PackageGraph
	initials []PackageId
	dir      Direction
}

// Query starts a traversal from initials in the given direction.
func (g *PackageGraph) Query(initials []PackageId, dir Direction) *PackageQuery {
	cp := append([]PackageId(nil), initials...)
	return &PackageQuery{g: g, initials: cp, dir: dir}
}

// Initials returns the query's starting ids.
func (q *PackageQuery) Initials() []PackageId { return append([]PackageId(nil), q.initials...) }

// Direction returns the query's traversal direction.
func (q *PackageQuery) Direction() Direction { return q.dir }

// Resolve performs the transitive closure over every edge kind and returns
// the resulting PackageSet.
func (q *PackageQuery) Resolve() (*PackageSet, error) {
	seen := make(map[PackageId]bool)
	var queue []PackageId
	for _, id := range q.initials {
		if _, err := q.g.Metadata(id); err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		links := q.g.forward[cur]
		if q.dir == Reverse {
			links = q.g.reverse[cur]
		}
		for _, l := range links {
			next := l.To
			if q.dir == Reverse {
				next = l.From
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}

	return &PackageSet{g: q.g, ids: seen}, nil
}

// PackageSet is a resolved, immutable subset of a PackageGraph's packages.
type PackageSet struct {
	g   *PackageGraph
	ids map[PackageId]bool
}

// NewPackageSet wraps an explicit id set (used by consumers like the
// Determinator/Hakari that build sets outside of a single Query).
func NewPackageSet(g *PackageGraph, ids []PackageId) *PackageSet {
	set := make(map[PackageId]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return &PackageSet{g: g, ids: set}
}

// Len returns the number of packages in the set.
func (s *PackageSet) Len() int { return len(s.ids) }

// Contains reports whether id is a member of the set.
func (s *PackageSet) Contains(id PackageId) bool { return s.ids[id] }

func (s *PackageSet) idList() []PackageId {
	out := make([]PackageId, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	SortPackageIds(out)
	return out
}

// Union returns a new set containing members of either set.
func (s *PackageSet) Union(other *PackageSet) *PackageSet {
	out := make(map[PackageId]bool, len(s.ids)+len(other.ids))
	for id := range s.ids {
		out[id] = true
	}
	for id := range other.ids {
		out[id] = true
	}
	return &PackageSet{g: s.g, ids: out}
}

// Intersection returns a new set containing members of both sets.
func (s *PackageSet) Intersection(other *PackageSet) *PackageSet {
	out := make(map[PackageId]bool)
	for id := range s.ids {
		if other.ids[id] {
			out[id] = true
		}
	}
	return &PackageSet{g: s.g, ids: out}
}

// Difference returns members of s that are not in other.
func (s *PackageSet) Difference(other *PackageSet) *PackageSet {
	out := make(map[PackageId]bool)
	for id := range s.ids {
		if !other.ids[id] {
			out[id] = true
		}
	}
	return &PackageSet{g: s.g, ids: out}
}

// SymmetricDifference returns members present in exactly one of the two sets.
func (s *PackageSet) SymmetricDifference(other *PackageSet) *PackageSet {
	out := make(map[PackageId]bool)
	for id := range s.ids {
		if !other.ids[id] {
			out[id] = true
		}
	}
	for id := range other.ids {
		if !s.ids[id] {
			out[id] = true
		}
	}
	return &PackageSet{g: s.g, ids: out}
}

// induced returns, for each id in the set, its neighbors in direction dir
// restricted to the set and (if nonDevOnly) excluding dev-only edges.
func (s *PackageSet) induced(dir Direction, nonDevOnly bool) map[PackageId][]PackageId {
	adj := make(map[PackageId][]PackageId, len(s.ids))
	for id := range s.ids {
		links := s.g.forward[id]
		if dir == Reverse {
			links = s.g.reverse[id]
		}
		for _, l := range links {
			if nonDevOnly && l.IsDevOnly() {
				continue
			}
			next := l.To
			if dir == Reverse {
				next = l.From
			}
			if s.ids[next] {
				adj[id] = append(adj[id], next)
			}
		}
	}
	return adj
}

// PackageIds returns the set's ids in topological order with respect to the
// given direction, excluding dev-only edges from the ordering constraint.
// Each id appears exactly once.
func (s *PackageSet) PackageIds(dir Direction) []PackageId {
	adj := s.induced(dir, true)
	return topoSort(s.idList(), adj)
}

// Packages returns the set's metadata in the same order as PackageIds.
func (s *PackageSet) Packages(dir Direction) []*PackageMetadata {
	ids := s.PackageIds(dir)
	out := make([]*PackageMetadata, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.g.metadata[id])
	}
	return out
}

// RootIds returns the ids with no edges in the given direction within the
// set (i.e. following that direction, they lead to nothing else in the set).
func (s *PackageSet) RootIds(dir Direction) []PackageId {
	adj := s.induced(dir, false)
	var roots []PackageId
	for _, id := range s.idList() {
		if len(adj[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Links returns every edge with both endpoints in the set, ordered so that
// for any given package, at least one link where the package appears on the
// "to" side (forward) precedes any link where it appears on the "from"
// side -- an edge-BFS from the set's roots (the ids nothing in the set
// reaches in that direction), flipping endpoints as needed so "from"/"to"
// remain semantically correct for the requested direction.
func (s *PackageSet) Links(dir Direction) []*PackageLink {
	roots := s.RootIds(dir.Opposite())
	visited := make(map[PackageId]bool)
	var queue []PackageId
	for _, r := range roots {
		if !visited[r] {
			visited[r] = true
			queue = append(queue, r)
		}
	}
	// Fall back to every node if the induced subgraph has no roots (a cycle
	// spanning the whole set) so Links still covers every edge.
	if len(queue) == 0 {
		queue = append(queue, s.idList()...)
		for _, id := range queue {
			visited[id] = true
		}
	}

	var out []*PackageLink
	seenLink := make(map[*PackageLink]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		// Consumer-side links: edges where cur is on the consumer side for
		// this direction (i.e. cur -> next in Forward, or next -> cur
		// logically in Reverse -- but since storage is endpoint-symmetric we
		// look at the raw stored edges and flip display endpoints below).
		var raw []*PackageLink
		if dir == Forward {
			raw = s.g.forward[cur]
		} else {
			raw = s.g.reverse[cur]
		}
		for _, l := range raw {
			next := l.To
			if dir == Reverse {
				next = l.From
			}
			if !s.ids[next] {
				continue
			}
			if !seenLink[l] {
				seenLink[l] = true
				out = append(out, flipForDirection(l, dir))
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return out
}

// flipForDirection returns l unchanged for Forward (storage already holds
// From->To in the conventional sense); for Reverse, the semantic "from"/"to"
// as seen by the reverse traversal are the storage endpoints flipped, so
// callers processing a Reverse Links() result see edges pointing the way
// the traversal moved.
func flipForDirection(l *PackageLink, dir Direction) *PackageLink {
	if dir == Forward {
		return l
	}
	flipped := *l
	flipped.From, flipped.To = l.To, l.From
	return &flipped
}

// topoSort returns ids in topological order w.r.t. adj (ids -> successors),
// breaking ties and cycles deterministically by falling back to id order.
// It never panics on a cyclic adjacency: cycle members are emitted in id
// order once all of their acyclic predecessors have been emitted.
func topoSort(ids []PackageId, adj map[PackageId][]PackageId) []PackageId {
	indegree := make(map[PackageId]int, len(ids))
	for _, id := range ids {
		indegree[id] = 0
	}
	for _, id := range ids {
		for _, next := range adj[id] {
			indegree[next]++
		}
	}

	// Kahn's algorithm with a deterministic (sorted) ready-set at each step.
	remaining := make(map[PackageId]bool, len(ids))
	for _, id := range ids {
		remaining[id] = true
	}

	var out []PackageId
	for len(remaining) > 0 {
		var ready []PackageId
		for _, id := range ids {
			if remaining[id] && indegree[id] == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			// A residual cycle: break it by picking the smallest remaining id.
			for _, id := range ids {
				if remaining[id] {
					ready = append(ready, id)
					break
				}
			}
		}
		for _, id := range ready {
			out = append(out, id)
			delete(remaining, id)
			for _, next := range adj[id] {
				if remaining[next] {
					indegree[next]--
				}
			}
		}
	}
	return out
}
