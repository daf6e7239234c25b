// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rules parses a Determinator rules document: two
// ordered TOML tables, [[path-rule]] and [[package-rule]], decoded with
// github.com/BurntSushi/toml and compiled with github.com/gobwas/glob.
package rules

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/gobwas/glob"
)

// PostRule is the action taken after a path-rule glob matches.
type PostRule int

const (
	PostSkip PostRule = iota
	PostSkipRules
	PostFallthrough
)

// MarkChanged is either "all" (the entire workspace) or an explicit list of
// workspace package names.
type MarkChanged struct {
	All   bool
	Names []string
}

// PathRule is one [[path-rule]] entry, with its globs pre-compiled.
type PathRule struct {
	RawGlobs    []string
	Globs       []glob.Glob
	MarkChanged MarkChanged
	PostRule    PostRule
}

// PackageRule is one [[package-rule]] entry.
type PackageRule struct {
	OnAffected  []string
	MarkChanged MarkChanged
}

// Rules is a full Determinator rules document.
type Rules struct {
	PathRules    []PathRule
	PackageRules []PackageRule
}

// RuleError is a fatal rule-compilation error: an invalid glob,
// an unknown key, or a missing/malformed mark-changed field.
type RuleError struct {
	Detail string
}

func (e *RuleError) Error() string { return "determinator rule: " + e.Detail }

type rawDoc struct {
	PathRule    []rawPathRule    `toml:"path-rule"`
	PackageRule []rawPackageRule `toml:"package-rule"`
}

type rawPathRule struct {
	Globs       []string    `toml:"globs"`
	MarkChanged interface{} `toml:"mark-changed"`
	PostRule    string      `toml:"post-rule"`
}

type rawPackageRule struct {
	OnAffected  []string    `toml:"on-affected"`
	MarkChanged interface{} `toml:"mark-changed"`
}

func parseMarkChanged(raw interface{}) (MarkChanged, error) {
	switch v := raw.(type) {
	case nil:
		return MarkChanged{}, &RuleError{Detail: "mark-changed is required"}
	case string:
		if v != "all" {
			return MarkChanged{}, &RuleError{Detail: fmt.Sprintf("mark-changed: unknown string value %q", v)}
		}
		return MarkChanged{All: true}, nil
	case []interface{}:
		names := make([]string, 0, len(v))
		for _, elem := range v {
			s, ok := elem.(string)
			if !ok {
				return MarkChanged{}, &RuleError{Detail: "mark-changed list entries must be strings"}
			}
			names = append(names, s)
		}
		return MarkChanged{Names: names}, nil
	default:
		return MarkChanged{}, &RuleError{Detail: "mark-changed must be \"all\" or a list of names"}
	}
}

func parsePostRule(s string) (PostRule, error) {
	switch s {
	case "", "skip":
		return PostSkip, nil
	case "skip-rules":
		return PostSkipRules, nil
	case "fallthrough":
		return PostFallthrough, nil
	default:
		return 0, &RuleError{Detail: fmt.Sprintf("post-rule: unknown value %q", s)}
	}
}

// Parse decodes a rules document, rejecting unknown keys.
func Parse(text string) (*Rules, error) {
	var raw rawDoc
	md, err := toml.Decode(text, &raw)
	if err != nil {
		return nil, &RuleError{Detail: err.Error()}
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, &RuleError{Detail: fmt.Sprintf("unknown key %q", undecoded[0].String())}
	}

	out := &Rules{}
	for _, rp := range raw.PathRule {
		mc, err := parseMarkChanged(rp.MarkChanged)
		if err != nil {
			return nil, err
		}
		pr, err := parsePostRule(rp.PostRule)
		if err != nil {
			return nil, err
		}
		globs := make([]glob.Glob, 0, len(rp.Globs))
		for _, g := range rp.Globs {
			compiled, err := glob.Compile(g, '/')
			if err != nil {
				return nil, &RuleError{Detail: fmt.Sprintf("invalid glob %q: %v", g, err)}
			}
			globs = append(globs, compiled)
		}
		out.PathRules = append(out.PathRules, PathRule{
			RawGlobs: rp.Globs, Globs: globs, MarkChanged: mc, PostRule: pr,
		})
	}
	for _, rp := range raw.PackageRule {
		mc, err := parseMarkChanged(rp.MarkChanged)
		if err != nil {
			return nil, err
		}
		out.PackageRules = append(out.PackageRules, PackageRule{OnAffected: rp.OnAffected, MarkChanged: mc})
	}
	return out, nil
}

// DefaultRules is the conservative built-in default: no declared rules at all, so every
// changed path falls straight through to ancestor-member matching.
func DefaultRules() *Rules { return &Rules{} }
