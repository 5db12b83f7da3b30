package util

import (
	"regexp"
	"strings"
)

var (
	reQuotes = regexp.MustCompile("[\"'`«»]")
	reSpaces = regexp.MustCompile(`\s+`)
)

func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(strings.ReplaceAll(input, "\u00a0", " "), " "))
}

// JoinName builds a display name from name parts, skipping blank ones.
func JoinName(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = NormalizeSpaces(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// NormalizeTIN strips whitespace and stray quotes from a taxpayer number.
func NormalizeTIN(input string) string {
	s := reQuotes.ReplaceAllString(input, "")
	return reSpaces.ReplaceAllString(strings.ReplaceAll(s, "\u00a0", ""), "")
}
