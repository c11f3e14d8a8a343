package match

import (
	"strings"
)

// Strategy is one named matching heuristic for a declared entity type.
// Strategies are pure functions over two property maps; "false" means
// only that this strategy offers no opinion, and the cascade continues.
type Strategy struct {
	Name string
	Fn   func(existing, candidate map[string]any) bool
}

// minPhoneDigits is the fewest significant digits a phone number needs
// before it participates in matching; shorter fragments collide too often.
const minPhoneDigits = 8

// exactEmail matches when both sides carry the same email address,
// case-insensitively.
func exactEmail() Strategy {
	return Strategy{
		Name: "exact-email",
		Fn: func(existing, candidate map[string]any) bool {
			a := strings.ToLower(propString(existing, "email"))
			b := strings.ToLower(propString(candidate, "email"))
			return a != "" && a == b
		},
	}
}

// exactPhone compares digits only and tolerates country-code variance by
// accepting substring containment, provided both sides have at least
// minPhoneDigits significant digits.
func exactPhone() Strategy {
	return Strategy{
		Name: "exact-phone",
		Fn: func(existing, candidate map[string]any) bool {
			a := digitsOnly(propString(existing, "phone"))
			b := digitsOnly(propString(candidate, "phone"))
			if len(a) < minPhoneDigits || len(b) < minPhoneDigits {
				return false
			}
			return a == b || strings.Contains(a, b) || strings.Contains(b, a)
		},
	}
}

// emailDomainFuzzyName matches people at the same email domain whose
// names are close; catches alias mailboxes for one person.
func emailDomainFuzzyName(threshold float64) Strategy {
	return Strategy{
		Name: "email-domain-fuzzy-name",
		Fn: func(existing, candidate map[string]any) bool {
			da := emailDomain(propString(existing, "email"))
			db := emailDomain(propString(candidate, "email"))
			if da == "" || da != db {
				return false
			}
			return nameSimilarity(existing, candidate) >= threshold
		},
	}
}

// fuzzyName matches on normalized edit similarity of name/title.
func fuzzyName(threshold float64) Strategy {
	return Strategy{
		Name: "fuzzy-name",
		Fn: func(existing, candidate map[string]any) bool {
			return nameSimilarity(existing, candidate) >= threshold
		},
	}
}

// lastNameFirstInitial matches "John Smith" against "J. Smith": equal last
// tokens plus equal first initials, where at least one first name actually
// is an initial. Two full first names sharing an initial (Michael and
// Michelle) must not match here.
func lastNameFirstInitial() Strategy {
	return Strategy{
		Name: "last-name-first-initial",
		Fn: func(existing, candidate map[string]any) bool {
			a := strings.Fields(NormalizeName(nameOf(existing)))
			b := strings.Fields(NormalizeName(nameOf(candidate)))
			if len(a) < 2 || len(b) < 2 {
				return false
			}
			if a[len(a)-1] != b[len(b)-1] {
				return false
			}
			fa := strings.TrimRight(a[0], ".")
			fb := strings.TrimRight(b[0], ".")
			if fa == "" || fb == "" {
				return false
			}
			if len(fa) > 1 && len(fb) > 1 {
				return false
			}
			return fa[0] == fb[0]
		},
	}
}

// normalizedIdentifier matches when any one of the given identifier
// properties agrees after strict normalization (strip punctuation,
// uppercase). "ABC-123" and "abc123" are the same plate.
func normalizedIdentifier(keys ...string) Strategy {
	return Strategy{
		Name: "normalized-identifier",
		Fn: func(existing, candidate map[string]any) bool {
			for _, key := range keys {
				a := NormalizeIdentifier(propString(existing, key))
				b := NormalizeIdentifier(propString(candidate, key))
				if a != "" && a == b {
					return true
				}
			}
			return false
		},
	}
}

// exactWebsiteDomain matches organizations on the host part of their
// website URL.
func exactWebsiteDomain() Strategy {
	return Strategy{
		Name: "exact-website-domain",
		Fn: func(existing, candidate map[string]any) bool {
			a := websiteHost(propString(existing, "website"))
			b := websiteHost(propString(candidate, "website"))
			return a != "" && a == b
		},
	}
}

// normalizedNameExact matches when names are identical after free-text
// normalization (case, whitespace, trailing punctuation).
func normalizedNameExact() Strategy {
	return Strategy{
		Name: "normalized-name-exact",
		Fn: func(existing, candidate map[string]any) bool {
			a := NormalizeName(nameOf(existing))
			b := NormalizeName(nameOf(candidate))
			return a != "" && a == b
		},
	}
}

// nameOf fetches the display name of an entity, trying name then title.
func nameOf(props map[string]any) string {
	return firstProp(props, "name", "title", "full_name")
}

func nameSimilarity(existing, candidate map[string]any) float64 {
	a := NormalizeName(nameOf(existing))
	b := NormalizeName(nameOf(candidate))
	if a == "" || b == "" {
		return 0
	}
	return StringSimilarity(a, b)
}

// websiteHost strips scheme, path, and a leading www. from a URL-ish value.
func websiteHost(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	if i := strings.Index(raw, "://"); i >= 0 {
		raw = raw[i+3:]
	}
	if i := strings.IndexAny(raw, "/?#"); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimPrefix(raw, "www.")
}

// defaultStrategies builds the built-in per-type cascades. Order matters:
// the first strategy returning true wins.
func defaultStrategies() map[string][]Strategy {
	return map[string][]Strategy{
		"Person": {
			exactEmail(),
			exactPhone(),
			emailDomainFuzzyName(0.8),
			fuzzyName(0.9),
			lastNameFirstInitial(),
		},
		"Organization": {
			exactWebsiteDomain(),
			normalizedNameExact(),
			fuzzyName(0.88),
		},
		"Asset": {
			normalizedIdentifier("license_plate", "serial_number", "vin"),
			fuzzyName(0.85),
		},
		"Vehicle": {
			normalizedIdentifier("license_plate", "vin"),
			fuzzyName(0.85),
		},
	}
}

// fallbackStrategies is the cascade applied to types with no registered
// strategy list: exact identifier, then high-threshold name similarity.
func fallbackStrategies() []Strategy {
	return []Strategy{
		normalizedIdentifier("identifier", "external_id", "code"),
		fuzzyName(0.9),
	}
}
