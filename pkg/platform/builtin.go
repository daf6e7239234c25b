// SPDX-License-Identifier: AGPL-3.0-or-later

package platform

// triplesInfo captures the handful of cfg(...) facts we can answer without a
// platform-specific target-features override: target_os, target_arch,
// target_family, target_env, target_vendor, target_pointer_width,
// target_endian, and the "unix"/"windows" bare flags. Only builtin triples
// (the ones a real `cargo` ships target-info for) are covered; evaluating a
// custom, non-built-in triple against a cfg(...) predicate that needs this
// table yields Unknown, not a guess -- see Non-goals.
type triplesInfo struct {
	os            string
	arch          string
	family        string
	env           string
	vendor        string
	pointerWidth  string
	endian        string
	unix, windows bool
}

func (t triplesInfo) matches(key, value string) (bool, bool) {
	switch key {
	case "target_os":
		return t.os == value, true
	case "target_arch":
		return t.arch == value, true
	case "target_family":
		return t.family == value, true
	case "target_env":
		return t.env == value, true
	case "target_vendor":
		return t.vendor == value, true
	case "target_pointer_width":
		return t.pointerWidth == value, true
	case "target_endian":
		return t.endian == value, true
	case "unix":
		return t.unix, true
	case "windows":
		return t.windows, true
	default:
		return false, false
	}
}

// builtinTriples is a small, hand-curated subset of rustc's target table:
// enough common desktop/server/wasm targets to make cfg(...) edges
// evaluable in the common case, without vendoring rustc's full target-spec
// JSON database.
var builtinTriples = map[string]triplesInfo{
	"x86_64-unknown-linux-gnu": {
		os: "linux", arch: "x86_64", family: "unix", env: "gnu", vendor: "unknown",
		pointerWidth: "64", endian: "little", unix: true,
	},
	"x86_64-unknown-linux-musl": {
		os: "linux", arch: "x86_64", family: "unix", env: "musl", vendor: "unknown",
		pointerWidth: "64", endian: "little", unix: true,
	},
	"aarch64-unknown-linux-gnu": {
		os: "linux", arch: "aarch64", family: "unix", env: "gnu", vendor: "unknown",
		pointerWidth: "64", endian: "little", unix: true,
	},
	"x86_64-pc-windows-msvc": {
		os: "windows", arch: "x86_64", family: "windows", env: "msvc", vendor: "pc",
		pointerWidth: "64", endian: "little", windows: true,
	},
	"x86_64-pc-windows-gnu": {
		os: "windows", arch: "x86_64", family: "windows", env: "gnu", vendor: "pc",
		pointerWidth: "64", endian: "little", windows: true,
	},
	"x86_64-apple-darwin": {
		os: "macos", arch: "x86_64", family: "unix", env: "", vendor: "apple",
		pointerWidth: "64", endian: "little", unix: true,
	},
	"aarch64-apple-darwin": {
		os: "macos", arch: "aarch64", family: "unix", env: "", vendor: "apple",
		pointerWidth: "64", endian: "little", unix: true,
	},
	"wasm32-unknown-unknown": {
		os: "unknown", arch: "wasm32", family: "", env: "", vendor: "unknown",
		pointerWidth: "32", endian: "little",
	},
	"x86_64-unknown-freebsd": {
		os: "freebsd", arch: "x86_64", family: "unix", env: "", vendor: "unknown",
		pointerWidth: "64", endian: "little", unix: true,
	},
}

// IsBuiltinTriple reports whether cargograph has cfg(...) target-info for the triple.
func IsBuiltinTriple(triple string) bool {
	_, ok := builtinTriples[triple]
	return ok
}
