// SPDX-License-Identifier: AGPL-3.0-or-later

package graph

import "fmt"

// Builder assembles a PackageGraph from ingest-time data. It is exported so
// that pkg/metadata (the only intended caller) can construct a graph without
// pkg/graph exposing mutable internals to every consumer.
type Builder struct {
	workspace Workspace
	metadata  map[PackageId]*PackageMetadata
	links     []*PackageLink
}

// NewBuilder creates an empty Builder for a workspace rooted at root.
func NewBuilder(root string) *Builder {
	return &Builder{
		workspace: Workspace{
			Root:    root,
			byPath:  make(map[string]PackageId),
			byName:  make(map[string]PackageId),
			members: make(map[PackageId]bool),
		},
		metadata: make(map[PackageId]*PackageMetadata),
	}
}

// AddPackage registers a package's metadata. Calling it twice for the same
// id is a construction error.
func (b *Builder) AddPackage(m *PackageMetadata) error {
	if _, exists := b.metadata[m.Id]; exists {
		return &ConstructError{Detail: fmt.Sprintf("duplicate package id %q", m.Id)}
	}
	b.metadata[m.Id] = m
	return nil
}

// MarkWorkspaceMember records id as a workspace member at the given
// manifest-directory-relative path.
func (b *Builder) MarkWorkspaceMember(id PackageId, name, relPath string) error {
	if existing, ok := b.workspace.byPathRaw()[relPath]; ok && existing != id {
		return &ConstructError{Detail: fmt.Sprintf("duplicate workspace path %q", relPath)}
	}
	if existing, ok := b.workspace.byNameRaw()[name]; ok && existing != id {
		return &ConstructError{Detail: fmt.Sprintf("duplicate workspace member name %q", name)}
	}
	b.workspace.byPath[relPath] = id
	b.workspace.byName[name] = id
	b.workspace.members[id] = true
	return nil
}

// byPathRaw/byNameRaw expose the maps for duplicate checks without widening
// the public Workspace API.
func (w *Workspace) byPathRaw() map[string]PackageId { return w.byPath }
func (w *Workspace) byNameRaw() map[string]PackageId { return w.byName }

// SetResolution records the resolve-section data (resolved dependency ids and
// enabled feature names) for an already-added package.
func (b *Builder) SetResolution(id PackageId, deps []PackageId, features []string) error {
	m, ok := b.metadata[id]
	if !ok {
		return &ConstructError{Detail: fmt.Sprintf("resolution references unknown package %q", id)}
	}
	m.ResolvedDeps = deps
	m.ResolvedFeatures = features
	return nil
}

// AddLink registers a directed dependency edge.
func (b *Builder) AddLink(l *PackageLink) error {
	if !l.IsValid() {
		return &ConstructError{Detail: fmt.Sprintf(
			"edge %s -> %s (%s) has no active kind requirement", l.From, l.To, l.DepName)}
	}
	b.links = append(b.links, l)
	return nil
}

// Build finalizes the graph, checking the cross-cutting invariants that
// aren't already enforced incrementally.
func (b *Builder) Build() (*PackageGraph, error) {
	for _, l := range b.links {
		if _, ok := b.metadata[l.From]; !ok {
			return nil, &ConstructError{Detail: fmt.Sprintf("edge references unknown package %q", l.From)}
		}
		if _, ok := b.metadata[l.To]; !ok {
			return nil, &ConstructError{Detail: fmt.Sprintf("edge references unknown package %q", l.To)}
		}
	}

	g := &PackageGraph{
		workspace: b.workspace,
		metadata:  b.metadata,
		links:     b.links,
	}
	g.buildIndices()
	return g, nil
}
