package util

import "testing"

func TestMaskPersonal(t *testing.T) {
	m := MaskPersonal(map[string]any{
		"user_ci":   "ABCDEFGH",
		"real_name": "Hong",
		"phone_num": "+821012345678",
		"nested":    map[string]any{"user_ci": "12345678"},
		"other":     "keep",
	})
	if m["user_ci"] != "ABCD****" {
		t.Fatalf("unexpected user_ci %v", m["user_ci"])
	}
	if m["real_name"] != "H***" {
		t.Fatalf("unexpected real_name %v", m["real_name"])
	}
	if m["phone_num"] != "+82******5678" {
		t.Fatalf("unexpected phone %v", m["phone_num"])
	}
	if m["nested"].(map[string]any)["user_ci"] != "1234****" {
		t.Fatalf("nested field not masked")
	}
	if m["other"] != "keep" {
		t.Fatalf("non-personal field changed")
	}
}
