// Package phone canonicalizes user-supplied phone numbers into "+<digits>" form.
package phone

import "strings"

// Normalizer rewrites domestic numbers into international form for one country.
type Normalizer struct {
	CountryCode  string
	TrunkPrefix  string
	MobilePrefix string
}

// DefaultNormalizer handles Russian numbering: calling code 7, trunk 8, mobile numbers start with 9.
var DefaultNormalizer = Normalizer{CountryCode: "7", TrunkPrefix: "8", MobilePrefix: "9"}

// NewNormalizer returns a Normalizer; empty arguments fall back to DefaultNormalizer values.
func NewNormalizer(countryCode, trunkPrefix, mobilePrefix string) Normalizer {
	n := DefaultNormalizer
	if countryCode != "" {
		n.CountryCode = countryCode
	}
	if trunkPrefix != "" {
		n.TrunkPrefix = trunkPrefix
	}
	if mobilePrefix != "" {
		n.MobilePrefix = mobilePrefix
	}
	return n
}

// Normalize returns the canonical phone for raw, or "" when raw carries no usable number.
// Formatting is stripped first; input with a leading "+" is already international and keeps its digits as-is.
func (n Normalizer) Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	digits := Digits(s)
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(s, "+") {
		return "+" + digits
	}
	switch {
	case len(digits) == 11 && strings.HasPrefix(digits, n.TrunkPrefix):
		return "+" + n.CountryCode + digits[1:]
	case len(digits) == 10 && strings.HasPrefix(digits, n.MobilePrefix):
		return "+" + n.CountryCode + digits
	case len(digits) == 11 && strings.HasPrefix(digits, n.CountryCode):
		return "+" + digits
	default:
		return "+" + digits
	}
}

// Normalize applies DefaultNormalizer.
func Normalize(raw string) string {
	return DefaultNormalizer.Normalize(raw)
}

// Digits strips every non-digit rune from s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SameNumber reports whether a and b carry the same digits, ignoring formatting and a leading "+".
func SameNumber(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	da, db := Digits(a), Digits(b)
	return da != "" && da == db
}
