package util

import "strings"

// KoreanPhonePrefix is the E.164 country prefix accepted for phone_num.
const KoreanPhonePrefix = "+82"

// NormalizePhone strips spaces and dashes, keeping a leading '+'.
func NormalizePhone(phone string) string {
	var sb strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if r == '+' && i == 0 {
			sb.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// IsValidKoreanPhone reports whether phone is "+82" followed by 8 to 12 digits,
// at most 15 characters in total.
func IsValidKoreanPhone(phone string) bool {
	if !strings.HasPrefix(phone, KoreanPhonePrefix) || len(phone) > 15 {
		return false
	}
	digits := phone[len(KoreanPhonePrefix):]
	if len(digits) < 8 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
