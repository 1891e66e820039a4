package transform

import (
	"strings"
	"unicode"
)

// NormalizePhone converts a raw phone number into E.164 form. Rules are
// applied in order, first match wins:
//
//  1. blank input passes through untouched
//  2. a 00 prefix becomes +
//  3. a + prefix is trusted as already normalized
//  4. with no default country code, 10+ digits get a bare + prefix
//  5. a leading 0 is replaced by the default country code
//  6. digits not already starting with the country code get it prepended
//  7. anything else gets a bare + prefix
//
// countryCode is digits only, e.g. "234" for Nigeria.
func NormalizePhone(raw, countryCode string) string {
	if strings.TrimSpace(raw) == "" {
		return raw
	}

	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(raw, "00"):
		return "+" + digits[2:]
	case strings.HasPrefix(raw, "+"):
		return raw
	case len(digits) >= 10 && countryCode == "":
		return "+" + digits
	case strings.HasPrefix(digits, "0") && countryCode != "":
		return "+" + countryCode + digits[1:]
	case countryCode != "" && !strings.HasPrefix(digits, countryCode):
		return "+" + countryCode + digits
	default:
		return "+" + digits
	}
}
