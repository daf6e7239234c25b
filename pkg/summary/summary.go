// SPDX-License-Identifier: AGPL-3.0-or-later

// Package summary implements the stable, serializable build-summary
// representation used for equality checks and diffing.
package summary

import (
	"fmt"
	"sort"
	"strings"

	"cargograph/pkg/graph"
	"cargograph/pkg/graph/feature"
	"cargograph/pkg/platform"
	"cargograph/pkg/resolver"
	"cargograph/pkg/semverx"
)

// Status classifies a package's role in a resolved build.
type Status int

const (
	StatusInitial Status = iota
	StatusWorkspace
	StatusDirect
	StatusTransitive
)

func (s Status) String() string {
	switch s {
	case StatusInitial:
		return "initial"
	case StatusWorkspace:
		return "workspace"
	case StatusDirect:
		return "direct"
	default:
		return "transitive"
	}
}

func parseStatus(s string) (Status, error) {
	switch s {
	case "initial":
		return StatusInitial, nil
	case "workspace":
		return StatusWorkspace, nil
	case "direct":
		return StatusDirect, nil
	case "transitive":
		return StatusTransitive, nil
	default:
		return 0, fmt.Errorf("summary: unknown status %q", s)
	}
}

// SummaryId is a package's stable cross-reference key: name, version, and
// source (with crates.io represented by a distinguished boolean rather than
// its registry URL string).
type SummaryId struct {
	Name     string
	Version  semverx.Version
	CratesIO bool
	Source   string // meaningful only when !CratesIO
}

func (id SummaryId) sourceText() string {
	if id.CratesIO {
		return "crates-io"
	}
	if id.Source == "" {
		return "local"
	}
	return id.Source
}

// less implements SummaryId's lexicographic order, used as the secondary
// sort key after Status.
func (id SummaryId) less(other SummaryId) bool {
	if id.Name != other.Name {
		return id.Name < other.Name
	}
	if id.Version.String() != other.Version.String() {
		return id.Version.String() < other.Version.String()
	}
	return id.sourceText() < other.sourceText()
}

// PackageInfo is one package's build-relevant facts.
type PackageInfo struct {
	Status       Status
	Features     []string // kept sorted
	OptionalDeps []string // kept sorted
}

func newPackageInfo(status Status, features, optionalDeps []string) PackageInfo {
	f := append([]string(nil), features...)
	sort.Strings(f)
	o := append([]string(nil), optionalDeps...)
	sort.Strings(o)
	return PackageInfo{Status: status, Features: f, OptionalDeps: o}
}

// Summary is a stable, serializable description of a resolved build.
type Summary struct {
	MetadataTable  map[string]any
	TargetPlatform string // Platform.Summary() form, "" if unspecified
	HostPlatform   string // Platform.Summary() form, "" if unspecified
	TargetPackages map[SummaryId]PackageInfo
	HostPackages   map[SummaryId]PackageInfo
}

// entry pairs an id with its info, used for stably-ordered iteration.
type entry struct {
	Id   SummaryId
	Info PackageInfo
}

func sortedEntries(m map[SummaryId]PackageInfo) []entry {
	out := make([]entry, 0, len(m))
	for id, info := range m {
		out = append(out, entry{Id: id, Info: info})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Info.Status != out[j].Info.Status {
			return out[i].Info.Status < out[j].Info.Status
		}
		return out[i].Id.less(out[j].Id)
	})
	return out
}

// FromCargoSet reduces a resolver.CargoSet to a Summary, classifying each
// reached package's Status relative to the initials. opts's TargetPlatform
// and HostPlatform (if set) are embedded via Platform.Summary() so a later
// Parse can recover which platform produced this build without the caller
// re-running resolution.
func FromCargoSet(fg *feature.Graph, cs *resolver.CargoSet, initials resolver.Initials, opts resolver.Options) *Summary {
	pg := fg.PackageGraph()

	classify := func(enabled map[feature.Id]bool) map[SummaryId]PackageInfo {
		byPkg := make(map[graph.PackageId]map[string]bool)
		for id := range enabled {
			if byPkg[id.Package] == nil {
				byPkg[id.Package] = make(map[string]bool)
			}
			if id.Feature != "" {
				byPkg[id.Package][id.Feature] = true
			}
		}

		directs := make(map[graph.PackageId]bool)
		for pkgID := range initials {
			m, err := pg.Metadata(pkgID)
			if err != nil {
				continue
			}
			for _, l := range pg.DirectLinks(m.Id, graph.Forward) {
				directs[l.To] = true
			}
		}

		out := make(map[SummaryId]PackageInfo, len(byPkg))
		for pkgID, features := range byPkg {
			m, err := pg.Metadata(pkgID)
			if err != nil {
				continue
			}
			status := StatusTransitive
			switch {
			case isInitial(initials, pkgID):
				status = StatusInitial
			case m.InWorkspace():
				status = StatusWorkspace
			case directs[pkgID]:
				status = StatusDirect
			}

			var featureNames, optionalDeps []string
			for name := range features {
				featureNames = append(featureNames, name)
			}
			for name, fv := range m.Features {
				if fv.IsOptionalDep && features[name] {
					optionalDeps = append(optionalDeps, name)
				}
			}

			id := SummaryId{Name: m.Name, Version: m.Version}
			if isCratesIO(m.Source) {
				id.CratesIO = true
			} else {
				id.Source = m.Source.String()
			}

			out[id] = newPackageInfo(status, featureNames, optionalDeps)
		}
		return out
	}

	s := &Summary{
		TargetPackages: classify(cs.TargetFeatures),
		HostPackages:   classify(cs.HostFeatures),
	}
	if opts.TargetPlatform != nil {
		s.TargetPlatform = opts.TargetPlatform.Summary()
	}
	if opts.HostPlatform != nil {
		s.HostPlatform = opts.HostPlatform.Summary()
	}
	return s
}

func isInitial(initials resolver.Initials, id graph.PackageId) bool {
	_, ok := initials[id]
	return ok
}

// isCratesIO reports whether src is the crates.io registry, serialized with
// a distinguished boolean key rather than its URL.
func isCratesIO(src graph.PackageSource) bool {
	return src.Kind == graph.SourceExternal && src.ExternalKind == graph.ExternalRegistry &&
		strings.Contains(src.RegistryURL, "crates.io")
}

// String serializes s in a stable, human-readable textual form: packages
// grouped by side then ordered by (status, SummaryId); paths use forward
// slashes regardless of host platform (carried from PackageSource.String()).
func (s *Summary) String() string {
	var b strings.Builder
	if s.TargetPlatform != "" {
		fmt.Fprintf(&b, "target-platform\t%s\n", s.TargetPlatform)
	}
	if s.HostPlatform != "" {
		fmt.Fprintf(&b, "host-platform\t%s\n", s.HostPlatform)
	}
	writeSection := func(title string, m map[SummaryId]PackageInfo) {
		fmt.Fprintf(&b, "[%s]\n", title)
		for _, e := range sortedEntries(m) {
			fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Info.Status, e.Id.Name, e.Id.Version, e.Id.sourceText(),
				strings.Join(e.Info.Features, ","), strings.Join(e.Info.OptionalDeps, ","))
		}
	}
	writeSection("target", s.TargetPackages)
	writeSection("host", s.HostPackages)
	return b.String()
}

// Parse reconstructs a Summary from its String() form.
func Parse(text string) (*Summary, error) {
	s := &Summary{TargetPackages: map[SummaryId]PackageInfo{}, HostPackages: map[SummaryId]PackageInfo{}}
	var cur map[SummaryId]PackageInfo

	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "target-platform\t"); ok {
			s.TargetPlatform = rest
			continue
		}
		if rest, ok := strings.CutPrefix(line, "host-platform\t"); ok {
			s.HostPlatform = rest
			continue
		}
		if strings.HasPrefix(line, "[") {
			switch strings.Trim(line, "[]") {
			case "target":
				cur = s.TargetPackages
			case "host":
				cur = s.HostPackages
			default:
				return nil, fmt.Errorf("summary: unknown section %q", line)
			}
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("summary: entry line before any section header")
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 6 {
			return nil, fmt.Errorf("summary: malformed entry %q", line)
		}
		status, err := parseStatus(fields[0])
		if err != nil {
			return nil, err
		}
		version, err := semverx.ParseVersion(fields[2])
		if err != nil {
			return nil, fmt.Errorf("summary: %w", err)
		}
		id := SummaryId{Name: fields[1], Version: version}
		if fields[3] == "crates-io" {
			id.CratesIO = true
		} else if fields[3] != "local" {
			id.Source = fields[3]
		}
		var features, optionalDeps []string
		if fields[4] != "" {
			features = strings.Split(fields[4], ",")
		}
		if fields[5] != "" {
			optionalDeps = strings.Split(fields[5], ",")
		}
		cur[id] = newPackageInfo(status, features, optionalDeps)
	}
	return s, nil
}

// Equal reports whether two summaries describe the same build: every
// package and feature set matches.
func (s *Summary) Equal(other *Summary) bool {
	return s.String() == other.String()
}

// Diff partitions the packages of two summaries by status change and
// feature-set change.
type Diff struct {
	StatusChanged  map[SummaryId]bool
	FeatureChanged map[SummaryId]bool
	Added          map[SummaryId]bool
	Removed        map[SummaryId]bool
}

// IsEmpty reports whether old and new describe the same target-side build
// (the comparison the Determinator's build-summary phase relies on).
func (d *Diff) IsEmpty() bool {
	return len(d.StatusChanged) == 0 && len(d.FeatureChanged) == 0 &&
		len(d.Added) == 0 && len(d.Removed) == 0
}

// DiffSide compares the target-side packages of old and new.
func DiffSide(old, new *Summary) *Diff {
	return diffMaps(old.TargetPackages, new.TargetPackages)
}

func diffMaps(oldM, newM map[SummaryId]PackageInfo) *Diff {
	d := &Diff{
		StatusChanged: map[SummaryId]bool{}, FeatureChanged: map[SummaryId]bool{},
		Added: map[SummaryId]bool{}, Removed: map[SummaryId]bool{},
	}
	for id, oldInfo := range oldM {
		newInfo, ok := newM[id]
		if !ok {
			d.Removed[id] = true
			continue
		}
		if oldInfo.Status != newInfo.Status {
			d.StatusChanged[id] = true
		}
		if strings.Join(oldInfo.Features, ",") != strings.Join(newInfo.Features, ",") ||
			strings.Join(oldInfo.OptionalDeps, ",") != strings.Join(newInfo.OptionalDeps, ",") {
			d.FeatureChanged[id] = true
		}
	}
	for id := range newM {
		if _, ok := oldM[id]; !ok {
			d.Added[id] = true
		}
	}
	return d
}
