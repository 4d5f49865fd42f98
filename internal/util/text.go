package util

import "strings"

func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// Truncate cuts value to at most max characters. Values that fit are
// returned unchanged, so truncation is only observable on long input.
func Truncate(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max]
}

// TruncateMarked cuts value to at most max characters and appends a marker
// when anything was removed. Used for capped triple renderings.
func TruncateMarked(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max] + "...[truncated]"
}

// NormalizeSpace trims value and collapses internal whitespace runs to a
// single space. Newlines count as whitespace.
func NormalizeSpace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

// ClampOneLine collapses value onto a single line and cuts it to max
// characters. Mode answers are clamped this way regardless of what the model
// returned.
func ClampOneLine(value string, max int) string {
	return Truncate(NormalizeSpace(value), max)
}
