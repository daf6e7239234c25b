// SPDX-License-Identifier: AGPL-3.0-or-later

// Package semverx wraps github.com/Masterminds/semver/v3 with the two
// acceptance rules the package graph needs: a bare "*" requirement accepts
// every version including pre-releases (Masterminds' Constraints.Check
// rejects pre-releases unless the constraint itself names one), and every
// other requirement is handed to the underlying library with each bare
// version ("1.3.1") made an explicit caret requirement ("^1.3.1"), which
// matches Cargo's own default requirement semantics closely enough for
// graph construction purposes.
package semverx

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a parsed semantic version.
type Version struct {
	inner *semver.Version
	raw   string
}

// ParseVersion parses a semver string.
func ParseVersion(s string) (Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("parsing version %q: %w", s, err)
	}
	return Version{inner: v, raw: s}, nil
}

// String returns the original version text.
func (v Version) String() string { return v.raw }

// Compare compares two versions per semver precedence rules.
func (v Version) Compare(other Version) int { return v.inner.Compare(other.inner) }

// Req is a parsed version requirement as it appears on a dependency edge.
type Req struct {
	raw         string
	isWildcard  bool
	constraints *semver.Constraints
}

// Wildcard is the canonical "*" requirement, which accepts any version
// including pre-releases.
const Wildcard = "*"

// ParseReq parses a version requirement string.
func ParseReq(raw string) (Req, error) {
	if raw == Wildcard {
		return Req{raw: raw, isWildcard: true}, nil
	}
	// The underlying library reads a bare version as an exact match.
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" && p[0] >= '0' && p[0] <= '9' && !strings.ContainsAny(p, "*xX") {
			p = "^" + p
		}
		parts[i] = p
	}
	c, err := semver.NewConstraint(strings.Join(parts, ", "))
	if err != nil {
		return Req{}, fmt.Errorf("parsing version requirement %q: %w", raw, err)
	}
	return Req{raw: raw, constraints: c}, nil
}

// String returns the original requirement text.
func (r Req) String() string { return r.raw }

// IsWildcard reports whether this is the bare "*" requirement.
func (r Req) IsWildcard() bool { return r.isWildcard }

// Accepts reports whether the requirement accepts the given version. A bare
// "*" accepts every version including pre-releases, which
// semver.Constraints.Check would otherwise reject.
func (r Req) Accepts(v Version) bool {
	if r.isWildcard {
		return true
	}
	return r.constraints.Check(v.inner)
}
