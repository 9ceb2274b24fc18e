package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameLength bounds display names carried in state broadcasts.
const MaxNameLength = 32

// SanitizeString removes control characters and surrounding whitespace.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// TruncateRunes cuts s to at most maxRunes runes.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}

// SanitizeName prepares a player display name for the wire.
func SanitizeName(s string) string {
	return TruncateRunes(SanitizeString(s), MaxNameLength)
}

// SplitPath returns the parent collection and the document id of a slash
// separated document path.
func SplitPath(path string) (string, string) {
	path = strings.Trim(path, "/")
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}
