package observability

import "unicode"

const maxFieldRunes = 256

// sanitizeString strips control characters and caps length so request-derived
// values cannot inject log lines or bloat trace attributes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldRunes
	}

	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		cleaned = append(cleaned, r)
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return string(cleaned)
}

// SanitizeRoute cleans a chi route pattern before it becomes a log field or
// span attribute.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod cleans an HTTP method string.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID caps Firebase UIDs before logging. UIDs are opaque but
// attacker-controllable custom tokens can carry arbitrary subjects.
func SanitizeUserID(uid string) string {
	if len(uid) == 0 {
		return ""
	}
	return sanitizeString(uid, 64)
}
