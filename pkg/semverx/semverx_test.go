// SPDX-License-Identifier: AGPL-3.0-or-later

package semverx

import "testing"

func TestWildcardAcceptsPrerelease(t *testing.T) {
	req, err := ParseReq("*")
	if err != nil {
		t.Fatalf("ParseReq(*): %v", err)
	}
	v, err := ParseVersion("1.0.0-alpha.1")
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}
	if !req.Accepts(v) {
		t.Errorf("wildcard requirement should accept pre-release version")
	}
}

func TestCaretDefaultRequirement(t *testing.T) {
	req, err := ParseReq("1.3.1")
	if err != nil {
		t.Fatalf("ParseReq: %v", err)
	}

	accept, err := ParseVersion("1.9.0")
	if err != nil {
		t.Fatal(err)
	}
	if !req.Accepts(accept) {
		t.Errorf("1.3.1 should accept 1.9.0 under caret default semantics")
	}

	reject, err := ParseVersion("2.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if req.Accepts(reject) {
		t.Errorf("1.3.1 should not accept 2.0.0 under caret default semantics")
	}
}

func TestNonWildcardRejectsPrereleaseByDefault(t *testing.T) {
	req, err := ParseReq("1.0.0")
	if err != nil {
		t.Fatalf("ParseReq: %v", err)
	}
	v, err := ParseVersion("1.0.0-alpha.1")
	if err != nil {
		t.Fatal(err)
	}
	if req.Accepts(v) {
		t.Errorf("non-wildcard requirement should not implicitly accept a pre-release")
	}
}
