// SPDX-License-Identifier: AGPL-3.0-or-later

// Package hakari implements the workspace-hack feature unification
// synthesizer: given a package graph, it computes, per
// platform and build kind, the union of features each third-party
// dependency needs across every workspace member, then emits a manifest
// that forces that union everywhere so Cargo only builds one copy.
package hakari

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"cargograph/pkg/graph"
	"cargograph/pkg/graph/feature"
	"cargograph/pkg/platform"
	"cargograph/pkg/resolver"
)

// BuildPlatform distinguishes the target side of a build from the host
// (build-script/proc-macro) side.
type BuildPlatform int

const (
	Target BuildPlatform = iota
	Host
)

func (b BuildPlatform) String() string {
	if b == Target {
		return "target"
	}
	return "host"
}

// UnifyTargetHost controls how target-side and host-side unification
// interact.
type UnifyTargetHost int

const (
	UnifyNone UnifyTargetHost = iota
	UnifyOnBoth
	ReplicateTargetAsHost
)

// Config configures a unification run.
type Config struct {
	// HakariPackage is excluded from consideration as an ordinary dependency
	// (it is the package being synthesized).
	HakariPackage graph.PackageId
	// Platforms is the list of platforms to simulate; empty means a single
	// platform-independent pass.
	Platforms       []*platform.Platform
	ResolverVersion resolver.ResolverVersion
	OmittedPackages map[graph.PackageId]bool
	UnifyTargetHost UnifyTargetHost
	UnifyAll        bool
	// VerifyMode, read by BuildFullMap, plants HakariPackage as a
	// features_only participant (Default() selection) in every other
	// member's simulated build instead of iterating it as an ordinary
	// workspace member; see Verify.
	VerifyMode bool
}

// Activation records which initial workspace member and feature selection
// caused a dependency to be built with a particular feature set.
type Activation struct {
	InitialPackage graph.PackageId
	Selection      resolver.Selection
}

type sideMap map[string][]Activation // feature-set key ("" or "a,b,c") -> activations

type depPlatformEntry struct {
	sides map[BuildPlatform]sideMap
}

// FullMap is the full per-dependency feature-set map: platform index (-1 for
// the platform-independent pass) -> dependency id -> per-side feature-set
// groupings with their activation provenance.
type FullMap map[int]map[graph.PackageId]*depPlatformEntry

func featureSetKey(names map[string]bool) string {
	keys := make([]string, 0, len(names))
	for n := range names {
		keys = append(keys, n)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func featureSetNames(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, ",")
}

// BuildFullMap runs step 1: for every (platform, workspace member, feature
// selection in {none, default, all}) triple, simulate the build and record
// each third-party dependency's resulting per-side feature set. Runs in
// parallel via golang.org/x/sync/errgroup, since each triple's simulation is
// independent fan-out work.
//
// forced additionally plants the given dependencies as extra initials with
// an explicit feature subset, modeling the fixed-point pass's "treat the
// in-progress Hakari output as a features_only participant": adding a
// forced dependency as an initial with Selection.Only(names) unions its
// required features into the same resolved CargoSet as the member's own
// build, which is sufficient for hakari's closure purposes even though it
// does not literally reuse the resolver's FeaturesOnly hook (which only
// plants the bare package, not a specific feature subset).
func BuildFullMap(fg *feature.Graph, cfg Config, forced map[graph.PackageId][]string) (FullMap, error) {
	pg := fg.PackageGraph()
	members := pg.Workspace().MemberIds()

	platformIdxs := []int{-1}
	if len(cfg.Platforms) > 0 {
		platformIdxs = make([]int, len(cfg.Platforms))
		for i := range cfg.Platforms {
			platformIdxs[i] = i
		}
	}
	selections := []resolver.Selection{resolver.None(), resolver.Default(), resolver.All()}

	var mu sync.Mutex
	result := make(FullMap)

	g, _ := errgroup.WithContext(context.Background())
	for _, pIdx := range platformIdxs {
		pIdx := pIdx
		var p *platform.Platform
		if pIdx >= 0 {
			p = cfg.Platforms[pIdx]
		}
		for _, member := range members {
			member := member
			if cfg.OmittedPackages[member] {
				continue
			}
			// In VerifyMode the hakari package is not itself a buildable
			// member to iterate None/Default/All over -- it is the
			// synthetic crate being checked for completeness, so it is
			// instead planted below as a features_only participant in
			// every other member's build.
			if cfg.VerifyMode && member == cfg.HakariPackage {
				continue
			}
			for _, sel := range selections {
				sel := sel
				g.Go(func() error {
					initials := resolver.Initials{member: sel}
					for dep, names := range forced {
						if dep == member {
							continue
						}
						initials[dep] = resolver.Only(names...)
					}
					// VerifyMode: the hakari package participates in every
					// member's build as a features_only dependency with its
					// default features enabled, per the workspace-hack
					// crate's actual role (every member depends on it so its
					// own default-feature set gets unified in alongside
					// theirs).
					if cfg.VerifyMode && cfg.HakariPackage != "" && cfg.HakariPackage != member {
						initials[cfg.HakariPackage] = resolver.Default()
					}
					opts := resolver.Options{
						TargetPlatform: p, HostPlatform: p,
						ResolverVersion: cfg.ResolverVersion, OmittedPackages: cfg.OmittedPackages,
					}
					cs := resolver.Resolve(fg, initials, opts)
					recordCargoSet(&mu, result, pIdx, member, sel, cs, pg, cfg)
					return nil
				})
			}
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func recordCargoSet(mu *sync.Mutex, result FullMap, pIdx int, member graph.PackageId, sel resolver.Selection, cs *resolver.CargoSet, pg *graph.PackageGraph, cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if result[pIdx] == nil {
		result[pIdx] = make(map[graph.PackageId]*depPlatformEntry)
	}

	record := func(enabled map[feature.Id]bool, bp BuildPlatform) {
		byPkg := map[graph.PackageId]map[string]bool{}
		for id := range enabled {
			if id.Package == cfg.HakariPackage {
				continue
			}
			m, err := pg.Metadata(id.Package)
			if err != nil || m.InWorkspace() {
				continue
			}
			if byPkg[id.Package] == nil {
				byPkg[id.Package] = make(map[string]bool)
			}
			if id.Feature != "" {
				byPkg[id.Package][id.Feature] = true
			}
		}
		for depID, names := range byPkg {
			entry := result[pIdx][depID]
			if entry == nil {
				entry = &depPlatformEntry{sides: map[BuildPlatform]sideMap{}}
				result[pIdx][depID] = entry
			}
			if entry.sides[bp] == nil {
				entry.sides[bp] = sideMap{}
			}
			key := featureSetKey(names)
			entry.sides[bp][key] = append(entry.sides[bp][key], Activation{InitialPackage: member, Selection: sel})
		}
	}
	record(cs.TargetFeatures, Target)
	record(cs.HostFeatures, Host)
}

// MapKey identifies one (platform, build-kind) slot of a HakariMap.
type MapKey struct {
	PlatformIdx   int
	BuildPlatform BuildPlatform
}

// HakariMap is the unified result: for each
// (platform, build-kind), the feature set each dependency must be forced to.
type HakariMap map[MapKey]map[graph.PackageId]map[string]bool

func ensureMapKey(m HakariMap, k MapKey) map[graph.PackageId]map[string]bool {
	if m[k] == nil {
		m[k] = make(map[graph.PackageId]map[string]bool)
	}
	return m[k]
}

// unifyOnce runs step 2 of the algorithm over a fresh full map.
func unifyOnce(full FullMap, cfg Config) HakariMap {
	out := make(HakariMap)
	for pIdx, deps := range full {
		for depID, entry := range deps {
			for bp, sm := range entry.sides {
				if len(sm) <= 1 && !cfg.UnifyAll {
					continue
				}
				union := map[string]bool{}
				for featKey := range sm {
					for _, n := range featureSetNames(featKey) {
						union[n] = true
					}
				}
				ensureMapKey(out, MapKey{PlatformIdx: pIdx, BuildPlatform: bp})[depID] = union
			}
		}
	}

	switch cfg.UnifyTargetHost {
	case UnifyOnBoth:
		for pIdx := range full {
			tKey, hKey := MapKey{pIdx, Target}, MapKey{pIdx, Host}
			seen := map[graph.PackageId]bool{}
			for d := range out[tKey] {
				seen[d] = true
			}
			for d := range out[hKey] {
				seen[d] = true
			}
			for d := range seen {
				union := map[string]bool{}
				for n := range out[tKey][d] {
					union[n] = true
				}
				for n := range out[hKey][d] {
					union[n] = true
				}
				ensureMapKey(out, tKey)[d] = union
				ensureMapKey(out, hKey)[d] = union
			}
		}
	case ReplicateTargetAsHost:
		for pIdx := range full {
			tKey, hKey := MapKey{pIdx, Target}, MapKey{pIdx, Host}
			for d, feats := range out[tKey] {
				ensureMapKey(out, hKey)[d] = feats
			}
		}
	}
	return out
}

func forcedFromMap(hm HakariMap) map[graph.PackageId][]string {
	byDep := map[graph.PackageId]map[string]bool{}
	for _, deps := range hm {
		for depID, feats := range deps {
			if byDep[depID] == nil {
				byDep[depID] = make(map[string]bool)
			}
			for f := range feats {
				byDep[depID][f] = true
			}
		}
	}
	out := make(map[graph.PackageId][]string, len(byDep))
	for depID, feats := range byDep {
		names := make([]string, 0, len(feats))
		for f := range feats {
			names = append(names, f)
		}
		sort.Strings(names)
		out[depID] = names
	}
	return out
}

func hakariMapEqual(a, b HakariMap) bool {
	if a == nil || len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || len(av) != len(bv) {
			return false
		}
		for dep, af := range av {
			bf, ok := bv[dep]
			if !ok || len(af) != len(bf) {
				return false
			}
			for f := range af {
				if !bf[f] {
					return false
				}
			}
		}
	}
	return true
}

// maxFixedPointIterations bounds the fixed-point pass; the real iteration is
// monotone (forced feature sets only grow) and finite over a finite feature
// universe, so this is a safety backstop, not a behavior-changing cap.
const maxFixedPointIterations = 64

// Unify runs the full Hakari algorithm: step 1 (full map), step 2 (initial
// unification), and step 3 (fixed point), returning the final HakariMap.
func Unify(fg *feature.Graph, cfg Config) (HakariMap, error) {
	forced := map[graph.PackageId][]string{}
	var hm HakariMap
	for i := 0; i < maxFixedPointIterations; i++ {
		full, err := BuildFullMap(fg, cfg, forced)
		if err != nil {
			return nil, err
		}
		next := unifyOnce(full, cfg)
		// Entries forced by earlier passes stay forced: the map only grows.
		for k, deps := range hm {
			nd := ensureMapKey(next, k)
			for dep, feats := range deps {
				merged := map[string]bool{}
				for f := range nd[dep] {
					merged[f] = true
				}
				for f := range feats {
					merged[f] = true
				}
				nd[dep] = merged
			}
		}
		if hakariMapEqual(hm, next) {
			hm = next
			break
		}
		hm = next
		forced = forcedFromMap(hm)
	}
	return hm, nil
}

// ManifestLine is one emitted dependency line.
type ManifestLine struct {
	// PlatformIdxs lists which platform indices this line applies to; a
	// single -1 means the platform-independent pass, and a set spanning
	// every configured platform is rendered unconditionally.
	PlatformIdxs    []int
	BuildPlatform   BuildPlatform
	DepName         string
	Version         string
	Features        []string
	DefaultFeatures bool
}

// Emit runs step 4: for each HakariMap entry, produce a dependency line,
// coalescing lines with identical dependency/build-kind/feature content
// across platform indices.
func Emit(hm HakariMap, pg *graph.PackageGraph) []ManifestLine {
	type contentKey struct {
		dep     graph.PackageId
		bp      BuildPlatform
		featKey string
	}
	byContent := map[contentKey][]int{}
	for k, deps := range hm {
		for depID, feats := range deps {
			names := make([]string, 0, len(feats))
			for f := range feats {
				names = append(names, f)
			}
			sort.Strings(names)
			ck := contentKey{dep: depID, bp: k.BuildPlatform, featKey: strings.Join(names, ",")}
			byContent[ck] = append(byContent[ck], k.PlatformIdx)
		}
	}

	var out []ManifestLine
	for ck, idxs := range byContent {
		sort.Ints(idxs)
		name, version := string(ck.dep), ""
		if m, err := pg.Metadata(ck.dep); err == nil {
			name, version = m.Name, m.Version.String()
		}
		out = append(out, ManifestLine{
			PlatformIdxs: idxs, BuildPlatform: ck.bp, DepName: name, Version: version,
			Features: featureSetNames(ck.featKey),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DepName != out[j].DepName {
			return out[i].DepName < out[j].DepName
		}
		return out[i].BuildPlatform < out[j].BuildPlatform
	})
	return out
}

// RenderManifest renders lines into a Cargo.toml-style text fragment with
// `[dependencies]` and `[target.'cfg(...)'.dependencies]` sections.
func RenderManifest(lines []ManifestLine, platforms []*platform.Platform) string {
	isUnconditional := func(idxs []int) bool {
		if len(idxs) == 1 && idxs[0] == -1 {
			return true
		}
		return len(platforms) > 0 && len(idxs) == len(platforms)
	}

	var unconditional, conditional []ManifestLine
	for _, l := range lines {
		if isUnconditional(l.PlatformIdxs) {
			unconditional = append(unconditional, l)
		} else {
			conditional = append(conditional, l)
		}
	}

	var b strings.Builder
	writeLine := func(l ManifestLine) {
		fmt.Fprintf(&b, "%s = { version = %q", l.DepName, l.Version)
		if len(l.Features) > 0 {
			quoted := make([]string, len(l.Features))
			for i, f := range l.Features {
				quoted[i] = fmt.Sprintf("%q", f)
			}
			fmt.Fprintf(&b, ", features = [%s]", strings.Join(quoted, ", "))
		}
		fmt.Fprintf(&b, ", default-features = false } # %s\n", l.BuildPlatform)
	}

	if len(unconditional) > 0 {
		fmt.Fprintln(&b, "[dependencies]")
		for _, l := range unconditional {
			writeLine(l)
		}
	}
	for _, l := range conditional {
		triples := make([]string, 0, len(l.PlatformIdxs))
		for _, idx := range l.PlatformIdxs {
			if idx >= 0 && idx < len(platforms) && platforms[idx] != nil {
				triples = append(triples, platforms[idx].TripleStr)
			}
		}
		var cond string
		switch len(triples) {
		case 0:
			cond = "any()"
		case 1:
			cond = fmt.Sprintf("target_triple = %q", triples[0])
		default:
			parts := make([]string, len(triples))
			for i, t := range triples {
				parts[i] = fmt.Sprintf("target_triple = %q", t)
			}
			cond = fmt.Sprintf("any(%s)", strings.Join(parts, ", "))
		}
		fmt.Fprintf(&b, "[target.'cfg(%s)'.dependencies]\n", cond)
		writeLine(l)
	}
	return b.String()
}

// Verify runs the algorithm with the Hakari package itself included as a
// features_only participant (with default features) and reports whether
// unification is complete: a non-empty resulting HakariMap means some
// dependency still needs forcing, i.e. the checked-in manifest is stale.
func Verify(fg *feature.Graph, cfg Config) (bool, HakariMap, error) {
	verifyCfg := cfg
	verifyCfg.VerifyMode = true
	omitted := make(map[graph.PackageId]bool, len(cfg.OmittedPackages))
	for id, v := range cfg.OmittedPackages {
		omitted[id] = v
	}
	delete(omitted, verifyCfg.HakariPackage)
	verifyCfg.OmittedPackages = omitted

	hm, err := Unify(fg, verifyCfg)
	if err != nil {
		return false, nil, err
	}
	return len(hm) == 0, hm, nil
}
