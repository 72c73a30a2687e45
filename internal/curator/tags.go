package curator

import (
	"strings"
	"unicode"
)

const (
	maxRawTags  = 10
	maxTags     = 8
	minTagLen   = 3
	maxTagLen   = 40
	maxTagWords = 3
)

// stopTags are generic labels that say nothing about a document.
var stopTags = map[string]bool{
	"article":       true,
	"blog":          true,
	"blog post":     true,
	"content":       true,
	"document":      true,
	"general":       true,
	"information":   true,
	"introduction":  true,
	"misc":          true,
	"miscellaneous": true,
	"notes":         true,
	"other":         true,
	"overview":      true,
	"post":          true,
	"stuff":         true,
	"summary":       true,
	"thing":         true,
	"things":        true,
	"topic":         true,
	"topics":        true,
	"various":       true,
}

// NormalizeTags cleans model-produced tag candidates: lowercase, punctuation
// stripped, one to three words, 3 to 40 characters, generic terms dropped,
// deduplicated and capped at eight. Only the first ten candidates are read.
func NormalizeTags(raw []string) []string {
	if len(raw) > maxRawTags {
		raw = raw[:maxRawTags]
	}

	seen := make(map[string]bool, len(raw))
	tags := make([]string, 0, maxTags)
	for _, r := range raw {
		tag := normalizeTag(r)
		if tag == "" || stopTags[tag] || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

func normalizeTag(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/':
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	if len(words) == 0 || len(words) > maxTagWords {
		return ""
	}
	tag := strings.Join(words, " ")
	if n := len([]rune(tag)); n < minTagLen || n > maxTagLen {
		return ""
	}
	return tag
}
