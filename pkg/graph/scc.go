// SPDX-License-Identifier: AGPL-3.0-or-later

package graph

import "sort"

// Cycles exposes strongly-connected-component queries over the full graph
// (dev-only edges included, since those are what close legal cycles):
// is_cyclic(a,b) (same SCC) and all_cycles() (every SCC of size > 1, sorted
// for determinism).
type Cycles struct {
	sccOf map[PackageId]int
	sccs  [][]PackageId // every SCC with len > 1, sorted within and across
}

// Cycles returns the graph's cycle/SCC view, computing it lazily on first
// access and caching the result for the graph's lifetime.
func (g *PackageGraph) Cycles() *Cycles {
	g.sccOnce.Do(func() {
		g.sccResult = computeSCCs(g)
	})
	return g.sccResult
}

// IsCyclic reports whether a and b are in the same non-trivial SCC of the
// full graph.
func (c *Cycles) IsCyclic(a, b PackageId) bool {
	ia, oka := c.sccOf[a]
	ib, okb := c.sccOf[b]
	return oka && okb && ia == ib
}

// AllCycles returns every non-trivial SCC (size > 1), each sorted, and the
// outer list sorted by its first (smallest) member -- deterministic output
// / Scenario D.
func (c *Cycles) AllCycles() [][]PackageId {
	out := make([][]PackageId, len(c.sccs))
	for i, scc := range c.sccs {
		out[i] = append([]PackageId(nil), scc...)
	}
	return out
}

// computeSCCs runs Tarjan's algorithm over every edge, then orders each SCC
// using only its non-dev-only edges.
func computeSCCs(g *PackageGraph) *Cycles {
	type tstate struct {
		index, low int
		onStack    bool
	}

	index := 0
	stack := make([]PackageId, 0, len(g.order))
	state := make(map[PackageId]*tstate, len(g.order))
	sccOf := make(map[PackageId]int)
	var rawSCCs [][]PackageId

	var strongconnect func(v PackageId)
	strongconnect = func(v PackageId) {
		st := &tstate{index: index, low: index, onStack: true}
		state[v] = st
		index++
		stack = append(stack, v)

		for _, l := range g.forward[v] {
			w := l.To
			ws, seen := state[w]
			if !seen {
				strongconnect(w)
				ws = state[w]
				if ws.low < st.low {
					st.low = ws.low
				}
			} else if ws.onStack {
				if ws.index < st.low {
					st.low = ws.index
				}
			}
		}

		if st.low == st.index {
			var scc []PackageId
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				state[w].onStack = false
				sccOf[w] = len(rawSCCs)
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			rawSCCs = append(rawSCCs, scc)
		}
	}

	for _, id := range g.order {
		if _, seen := state[id]; !seen {
			strongconnect(id)
		}
	}

	// Order each SCC deterministically: topologically sort within the SCC by
	// filtering out back-edges, falling back to id order to
	// break residual cycles.
	var nontrivial [][]PackageId
	for _, scc := range rawSCCs {
		if len(scc) <= 1 {
			continue
		}
		SortPackageIds(scc)
		member := make(map[PackageId]bool, len(scc))
		for _, id := range scc {
			member[id] = true
		}
		adj := make(map[PackageId][]PackageId, len(scc))
		for _, id := range scc {
			for _, l := range g.forward[id] {
				if l.IsDevOnly() {
					continue
				}
				if member[l.To] {
					adj[id] = append(adj[id], l.To)
				}
			}
		}
		nontrivial = append(nontrivial, topoSort(scc, adj))
	}

	sort.Slice(nontrivial, func(i, j int) bool {
		return nontrivial[i][0] < nontrivial[j][0]
	})

	// sccOf must reflect the filtered (nontrivial) grouping only: packages in
	// a trivial (singleton, non-cyclic) SCC are not considered "cyclic" with
	// anything, including themselves, for IsCyclic purposes.
	finalSCCOf := make(map[PackageId]int, len(sccOf))
	for i, scc := range nontrivial {
		for _, id := range scc {
			finalSCCOf[id] = i
		}
	}

	return &Cycles{sccOf: finalSCCOf, sccs: nontrivial}
}
