// SPDX-License-Identifier: AGPL-3.0-or-later

package platform

// Or combines two PlatformStatus values into the status that is active
// whenever either input is active: Always absorbs, and two Specs lists
// combine by concatenation (duplicate specs are harmless under K3 OR).
func Or(a, b PlatformStatus) PlatformStatus {
	if a.Kind == StatusAlways || b.Kind == StatusAlways {
		return Always()
	}
	if len(a.Specs) == 0 {
		return b
	}
	if len(b.Specs) == 0 {
		return a
	}
	combined := make([]TargetSpec, 0, len(a.Specs)+len(b.Specs))
	combined = append(combined, a.Specs...)
	combined = append(combined, b.Specs...)
	return SpecsStatus(combined...)
}
