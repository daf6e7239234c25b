// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cliutil provides small helpers shared by cmd/cargograph's
// subcommands: metadata-document loading and tabular/plain output helpers.
package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"cargograph/pkg/graph"
	"cargograph/pkg/metadata"
	"cargograph/pkg/platform"
)

// LoadGraph reads and ingests a metadata document from path.
func LoadGraph(path string) (*graph.PackageGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cliutil: reading %s: %w", path, err)
	}
	var doc metadata.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("cliutil: parsing %s: %w", path, err)
	}
	return metadata.Ingest(&doc)
}

// ParsePlatform turns a bare target triple string into a platform.Platform,
// or returns nil for an empty string (meaning "platform-independent").
func ParsePlatform(triple string) *platform.Platform {
	if triple == "" {
		return nil
	}
	p := platform.NewPlatform(triple)
	return &p
}

// PrintPackageIds writes one package id per line, sorted, to w.
func PrintPackageIds(w io.Writer, ids []graph.PackageId) {
	sorted := append([]graph.PackageId(nil), ids...)
	graph.SortPackageIds(sorted)
	for _, id := range sorted {
		fmt.Fprintln(w, id)
	}
}

// PrintCycles writes each cycle (SCC with more than one member) as a
// comma-joined line, one cycle per line.
func PrintCycles(w io.Writer, cycles [][]graph.PackageId) {
	for _, c := range cycles {
		parts := make([]string, len(c))
		for i, id := range c {
			parts[i] = string(id)
		}
		sort.Strings(parts)
		fmt.Fprintln(w, strings.Join(parts, ", "))
	}
}
