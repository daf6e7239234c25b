// SPDX-License-Identifier: AGPL-3.0-or-later

package feature

import "sort"

// Cycles exposes strongly-connected-component queries over the feature
// graph's non-dev-edge view, mirroring graph.Cycles at feature granularity.
type Cycles struct {
	sccOf map[Id]int
	sccs  [][]Id
}

// Cycles computes (and caches) the feature graph's cycle/SCC view.
func (g *Graph) Cycles() *Cycles {
	g.sccOnce.Do(func() {
		g.sccResult = computeSCCs(g)
	})
	return g.sccResult
}

// IsCyclic reports whether a and b are in the same non-trivial SCC.
func (c *Cycles) IsCyclic(a, b Id) bool {
	ia, oka := c.sccOf[a]
	ib, okb := c.sccOf[b]
	return oka && okb && ia == ib
}

// AllCycles returns every non-trivial SCC, each sorted, outer list sorted by
// first member.
func (c *Cycles) AllCycles() [][]Id {
	out := make([][]Id, len(c.sccs))
	for i, scc := range c.sccs {
		out[i] = append([]Id(nil), scc...)
	}
	return out
}

// isDevOnly reports whether e is active only through its Dev component (the
// cross-package equivalent of graph.PackageLink.IsDevOnly).
func (e *Edge) isDevOnly() bool {
	return e.Kind == CrossPackage && !e.Dev.IsNever() && e.Normal.IsNever() && e.Build.IsNever()
}

func computeSCCs(g *Graph) *Cycles {
	type tstate struct {
		index, low int
		onStack    bool
	}

	order := g.sortedIds()
	index := 0
	var stack []Id
	state := make(map[Id]*tstate, len(order))
	sccOf := make(map[Id]int)
	var rawSCCs [][]Id

	var strongconnect func(v Id)
	strongconnect = func(v Id) {
		st := &tstate{index: index, low: index, onStack: true}
		state[v] = st
		index++
		stack = append(stack, v)

		for _, e := range g.forward[v] {
			if e.isDevOnly() {
				continue
			}
			w := e.To
			ws, seen := state[w]
			if !seen {
				if _, known := g.nodes[w.Package]; !known {
					continue
				}
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
			var scc []Id
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

	for _, id := range order {
		if _, seen := state[id]; !seen {
			strongconnect(id)
		}
	}

	var nontrivial [][]Id
	for _, scc := range rawSCCs {
		if len(scc) <= 1 {
			continue
		}
		sort.Slice(scc, func(i, j int) bool {
			if scc[i].Package != scc[j].Package {
				return scc[i].Package < scc[j].Package
			}
			return scc[i].Feature < scc[j].Feature
		})
		nontrivial = append(nontrivial, scc)
	}
	sort.Slice(nontrivial, func(i, j int) bool {
		a, b := nontrivial[i][0], nontrivial[j][0]
		if a.Package != b.Package {
			return a.Package < b.Package
		}
		return a.Feature < b.Feature
	})

	finalSCCOf := make(map[Id]int, len(sccOf))
	for i, scc := range nontrivial {
		for _, id := range scc {
			finalSCCOf[id] = i
		}
	}

	return &Cycles{sccOf: finalSCCOf, sccs: nontrivial}
}
