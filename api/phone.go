package api

import "strings"

// NormalizeKey canonicalizes a phone-style conversation key: strip
// formatting characters, keep digits, and normalize a leading 8 on 11-digit
// numbers to the 7 country code (the deployment's local convention).
func NormalizeKey(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '8' {
		digits = "7" + digits[1:]
	}
	return digits
}

// ValidateKey reports whether a normalized key looks like a usable phone
// number: digits only, between 10 and 15 of them.
func ValidateKey(key string) bool {
	if len(key) < 10 || len(key) > 15 {
		return false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// stripMarkdown removes the markdown control characters messaging channels
// render literally.
func stripMarkdown(s string) string {
	return strings.NewReplacer("**", "", "__", "", "*", "", "_", "", "#", "", "`", "").Replace(s)
}
