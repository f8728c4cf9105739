package domain

import (
	"regexp"
	"strings"
)

// The four Polish mobile network operators plus the fallback tag.
const (
	CarrierTMobile = "T-Mobile"
	CarrierOrange  = "Orange"
	CarrierPlay    = "Play"
	CarrierPlus    = "Plus"
	CarrierUnknown = "Unknown"
)

var (
	// brandQualifierRe splits "Brand (Qualifier)" into its two parts.
	brandQualifierRe = regexp.MustCompile(`^(.*?)\s*\((.*?)\)\s*$`)

	punctuationRe = regexp.MustCompile(`[#._\-]+`)
	whitespaceRe  = regexp.MustCompile(`\s+`)

	tMobileRe = regexp.MustCompile(`\bt\s*mobile\b`)
	playRe    = regexp.MustCompile(`\bplay\b`)
	plusRe    = regexp.MustCompile(`\bplus\b`)
)

// ResolveCarrier maps a device-reported operator name onto the MNO believed
// to own the serving radio network. A parenthesized qualifier is tried first:
// in roaming and MVNO scenarios it names the actual infrastructure owner
// ("Plus (Vectra)" means a Vectra SIM on another network). Vectra itself is
// an MVNO hosted on Play.
func ResolveCarrier(operator string) string {
	if strings.TrimSpace(operator) == "" {
		return CarrierUnknown
	}

	brand, qualifier := splitBrandQualifier(operator)
	if qualifier != "" {
		if c := mapToMNO(normalizeOperatorText(qualifier)); c != CarrierUnknown {
			return c
		}
	}
	return mapToMNO(normalizeOperatorText(brand))
}

// splitBrandQualifier separates a primary brand from an optional trailing
// parenthesized qualifier. Without a qualifier the whole string is the brand.
func splitBrandQualifier(operator string) (brand, qualifier string) {
	s := strings.TrimSpace(operator)
	if m := brandQualifierRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	return s, ""
}

// normalizeOperatorText lowercases, trims, and collapses separator characters
// and repeated whitespace to single spaces before mapping.
func normalizeOperatorText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = punctuationRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// mapToMNO matches normalized operator text against the four MNO brands.
// "plush" is Plus's prepaid sub-brand; word-boundary matches keep "playground"
// or "surplus" from mapping.
func mapToMNO(norm string) string {
	switch {
	case norm == "":
		return CarrierUnknown
	case tMobileRe.MatchString(norm) || strings.Contains(norm, "tmobile"):
		return CarrierTMobile
	case strings.Contains(norm, "orange"):
		return CarrierOrange
	case playRe.MatchString(norm):
		return CarrierPlay
	case plusRe.MatchString(norm) || strings.Contains(norm, "plush"):
		return CarrierPlus
	case strings.Contains(norm, "vectra"):
		return CarrierPlay
	default:
		return CarrierUnknown
	}
}
