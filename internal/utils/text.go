package utils

import (
	"strings"
	"unicode/utf8"
)

// Preview shortens s to at most maxRunes runes for log lines, marking the
// cut with "...". Line breaks are flattened.
func Preview(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")

	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}

	count := 0
	for i := range s {
		if count == maxRunes {
			return s[:i] + "..."
		}
		count++
	}
	return s
}
