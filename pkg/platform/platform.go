// SPDX-License-Identifier: AGPL-3.0-or-later

// Package platform evaluates the target-platform predicates that appear on
// dependency edges (target triples and cfg(...) expressions) against a
// concrete Platform description, using three-valued (Kleene K3) logic so
// that predicates which depend on unspecified target-features propagate
// Unknown rather than guessing.
package platform

import (
	"fmt"
	"sort"
	"strings"
)

// TargetFeaturesMode distinguishes the three ways a Platform can describe
// its target-feature set.
type TargetFeaturesMode int

const (
	// TargetFeaturesUnknown means the caller did not specify target-features;
	// any predicate that inspects target_feature(...) must evaluate to Unknown.
	TargetFeaturesUnknown TargetFeaturesMode = iota
	// TargetFeaturesSet means exactly the given set of target-features is enabled.
	TargetFeaturesSet
	// TargetFeaturesAll means every target-feature is considered enabled.
	TargetFeaturesAll
)

// TargetFeatures describes which target-features (e.g. "sse2", "avx2") a
// Platform enables.
type TargetFeatures struct {
	Mode TargetFeaturesMode
	Set  map[string]bool // only meaningful when Mode == TargetFeaturesSet
}

// UnknownTargetFeatures is the zero-value TargetFeatures: Unknown mode.
func UnknownTargetFeatures() TargetFeatures { return TargetFeatures{Mode: TargetFeaturesUnknown} }

// AllTargetFeatures reports every target-feature as enabled.
func AllTargetFeatures() TargetFeatures { return TargetFeatures{Mode: TargetFeaturesAll} }

// SetTargetFeatures reports exactly the given set of target-features as enabled.
func SetTargetFeatures(features ...string) TargetFeatures {
	set := make(map[string]bool, len(features))
	for _, f := range features {
		set[f] = true
	}
	return TargetFeatures{Mode: TargetFeaturesSet, Set: set}
}

// Has evaluates whether a single target-feature is present. The second
// return value is false when the answer is Unknown.
func (t TargetFeatures) Has(feature string) (enabled bool, known bool) {
	switch t.Mode {
	case TargetFeaturesAll:
		return true, true
	case TargetFeaturesSet:
		return t.Set[feature], true
	default:
		return false, false
	}
}

// Platform is a concrete (triple, target-features, cfg flags) tuple that a
// TargetSpec or PlatformStatus is evaluated against.
type Platform struct {
	TripleStr      string
	TargetFeatures TargetFeatures
	// Flags holds arbitrary boolean cfg flags not covered by the builtin
	// per-triple table (e.g. "debug_assertions", "test", a custom --cfg flag).
	Flags map[string]bool
}

// NewPlatform constructs a Platform for a known target triple.
func NewPlatform(triple string) Platform {
	return Platform{TripleStr: triple, TargetFeatures: UnknownTargetFeatures()}
}

// WithTargetFeatures returns a copy of the platform with the given target-features.
func (p Platform) WithTargetFeatures(tf TargetFeatures) Platform {
	p.TargetFeatures = tf
	return p
}

// WithFlag returns a copy of the platform with an extra boolean cfg flag set.
func (p Platform) WithFlag(key string, value bool) Platform {
	flags := make(map[string]bool, len(p.Flags)+1)
	for k, v := range p.Flags {
		flags[k] = v
	}
	flags[key] = value
	p.Flags = flags
	return p
}

// flag looks up a boolean cfg flag, first in the explicit override map, then
// in the builtin per-triple table. The second return is false when unknown.
func (p Platform) flag(key, value string) (bool, bool) {
	if p.Flags != nil {
		if v, ok := p.Flags[keyFor(key, value)]; ok {
			return v, true
		}
	}
	info, ok := builtinTriples[p.TripleStr]
	if !ok {
		return false, false
	}
	return info.matches(key, value)
}

func keyFor(key, value string) string {
	if value == "" {
		return key
	}
	return key + "=" + value
}

// Tristate is the K3 truth value produced by evaluating a predicate or a
// PlatformStatus against a (possibly partially specified) Platform.
type Tristate int

const (
	Disabled Tristate = iota
	Unknown
	Enabled
)

func (t Tristate) String() string {
	switch t {
	case Disabled:
		return "disabled"
	case Enabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// Bool reports the Tristate as a *bool: nil for Unknown.
func (t Tristate) Bool() *bool {
	switch t {
	case Disabled:
		b := false
		return &b
	case Enabled:
		b := true
		return &b
	default:
		return nil
	}
}

func fromBoolPtr(b *bool) Tristate {
	if b == nil {
		return Unknown
	}
	if *b {
		return Enabled
	}
	return Disabled
}

// orK3 combines two Tristates with Kleene K3 OR: Enabled absorbs, Disabled is
// the identity, Unknown is promoted only when no Enabled is present.
func orK3(a, b Tristate) Tristate {
	if a == Enabled || b == Enabled {
		return Enabled
	}
	if a == Unknown || b == Unknown {
		return Unknown
	}
	return Disabled
}

// OrK3 combines a slice of Tristates with Kleene K3 OR, as used by
// PlatformStatus.Specs evaluation. An empty slice is Disabled (the "never"
// status).
func OrK3(ts ...Tristate) Tristate {
	result := Disabled
	for _, t := range ts {
		result = orK3(result, t)
	}
	return result
}

// AndK3 combines two Tristates with Kleene K3 AND, used for all(...) cfg groups.
func AndK3(a, b Tristate) Tristate {
	if a == Disabled || b == Disabled {
		return Disabled
	}
	if a == Unknown || b == Unknown {
		return Unknown
	}
	return Enabled
}

// NotK3 negates a Tristate; Unknown stays Unknown.
func NotK3(a Tristate) Tristate {
	switch a {
	case Disabled:
		return Enabled
	case Enabled:
		return Disabled
	default:
		return Unknown
	}
}

// PlatformStatusKind distinguishes "always active" from "active on some specs".
type PlatformStatusKind int

const (
	// StatusSpecs means the status is active exactly when at least one of
	// Specs evaluates true on the platform. An empty Specs list means "never";
	// it is the zero value, so an unset PlatformStatus is never active.
	StatusSpecs PlatformStatusKind = iota
	// StatusAlways means the status is active regardless of platform.
	StatusAlways
)

// PlatformStatus records when a dependency-edge attribute (activation,
// default-features, a particular feature) applies, as either unconditional
// or a list of target-spec predicates OR'd together.
type PlatformStatus struct {
	Kind  PlatformStatusKind
	Specs []TargetSpec
}

// Always is the PlatformStatus that is unconditionally active.
func Always() PlatformStatus { return PlatformStatus{Kind: StatusAlways} }

// Never is the PlatformStatus that is never active (an empty Specs list).
func Never() PlatformStatus { return PlatformStatus{Kind: StatusSpecs} }

// SpecsStatus builds a PlatformStatus active when any of the given specs matches.
func SpecsStatus(specs ...TargetSpec) PlatformStatus {
	return PlatformStatus{Kind: StatusSpecs, Specs: specs}
}

// IsNever reports whether the status can never be active.
func (s PlatformStatus) IsNever() bool {
	return s.Kind == StatusSpecs && len(s.Specs) == 0
}

// EvalStatus evaluates a PlatformStatus against a platform. A nil platform
// means "no platform specified": Always remains Enabled, everything else is
// Unknown (conservative: we cannot know whether a conditional status holds).
func EvalStatus(status PlatformStatus, platform *Platform) Tristate {
	if status.Kind == StatusAlways {
		return Enabled
	}
	if len(status.Specs) == 0 {
		return Disabled
	}
	if platform == nil {
		return Unknown
	}
	ts := make([]Tristate, 0, len(status.Specs))
	for _, spec := range status.Specs {
		ts = append(ts, Evaluate(spec, *platform))
	}
	return OrK3(ts...)
}

// SortedFlagKeys is a small test/debug helper returning the flag keys in
// deterministic order.
func (p Platform) SortedFlagKeys() []string {
	keys := make([]string, 0, len(p.Flags))
	for k := range p.Flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Summary renders the platform as a single-line, round-trippable string:
// "<triple>[ features=all|features=set:f1,f2][ flags=k=v,...]". Build
// summaries embed this so a later diff can tell which platform produced
// a given target/host package split without re-evaluating any predicates.
func (p Platform) Summary() string {
	parts := []string{p.TripleStr}
	switch p.TargetFeatures.Mode {
	case TargetFeaturesAll:
		parts = append(parts, "features=all")
	case TargetFeaturesSet:
		names := make([]string, 0, len(p.TargetFeatures.Set))
		for n := range p.TargetFeatures.Set {
			names = append(names, n)
		}
		sort.Strings(names)
		parts = append(parts, "features=set:"+strings.Join(names, ","))
	}
	if len(p.Flags) > 0 {
		keys := p.SortedFlagKeys()
		flagParts := make([]string, len(keys))
		for i, k := range keys {
			flagParts[i] = fmt.Sprintf("%s=%t", k, p.Flags[k])
		}
		parts = append(parts, "flags="+strings.Join(flagParts, ","))
	}
	return strings.Join(parts, " ")
}

// ParsePlatformSummary parses a string produced by Platform.Summary.
func ParsePlatformSummary(s string) (Platform, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Platform{}, fmt.Errorf("platform: empty summary")
	}
	p := NewPlatform(fields[0])
	for _, f := range fields[1:] {
		switch {
		case f == "features=all":
			p.TargetFeatures = AllTargetFeatures()
		case strings.HasPrefix(f, "features=set:"):
			names := strings.Split(strings.TrimPrefix(f, "features=set:"), ",")
			p.TargetFeatures = SetTargetFeatures(names...)
		case strings.HasPrefix(f, "flags="):
			flags := strings.Split(strings.TrimPrefix(f, "flags="), ",")
			for _, kv := range flags {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return Platform{}, fmt.Errorf("platform: malformed flag %q", kv)
				}
				p = p.WithFlag(parts[0], parts[1] == "true")
			}
		default:
			return Platform{}, fmt.Errorf("platform: unrecognized summary field %q", f)
		}
	}
	return p, nil
}
