package telephony

import "strings"

// defaultCountryCode is prepended to national numbers. The fleet this
// system dials is Indian; callers can pass full E.164 to override.
const defaultCountryCode = "+91"

// FormatPhone normalizes a dialable number towards E.164.
func FormatPhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' || r == '+' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	if strings.HasPrefix(cleaned, "+") {
		return cleaned
	}
	cleaned = strings.TrimLeft(cleaned, "0")
	if strings.HasPrefix(cleaned, "91") && len(cleaned) > 10 {
		return "+" + cleaned
	}
	return defaultCountryCode + cleaned
}

// ValidPhone applies the minimal sanity check used before dispatch.
func ValidPhone(phone string) bool {
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 10 && digits <= 15
}
