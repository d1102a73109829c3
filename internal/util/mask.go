package util

import "strings"

// MaskTail keeps the first keep runes of s and replaces the rest with '*'.
func MaskTail(s string, keep int) string {
	r := []rune(s)
	if len(r) <= keep {
		return strings.Repeat("*", len(r))
	}
	return string(r[:keep]) + strings.Repeat("*", len(r)-keep)
}

// MaskPhone hides all but the country prefix and the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 7 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:3] + strings.Repeat("*", len(phone)-7) + phone[len(phone)-4:]
}

var personalFields = map[string]func(string) string{
	"user_ci":   func(v string) string { return MaskTail(v, 4) },
	"real_name": func(v string) string { return MaskTail(v, 1) },
	"phone_num": MaskPhone,

	"client_secret":  func(v string) string { return MaskTail(v, 0) },
	"access_token":   func(v string) string { return MaskTail(v, 8) },
	"signed_consent": func(v string) string { return MaskTail(v, 8) },
}

// MaskPersonal masks personal fields of a decoded JSON object in place.
func MaskPersonal(m map[string]any) map[string]any {
	for k, v := range m {
		switch tv := v.(type) {
		case string:
			if fn, ok := personalFields[k]; ok {
				m[k] = fn(tv)
			}
		case map[string]any:
			MaskPersonal(tv)
		case []any:
			for _, item := range tv {
				if mm, ok := item.(map[string]any); ok {
					MaskPersonal(mm)
				}
			}
		}
	}
	return m
}
