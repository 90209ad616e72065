package store

import (
	"strings"
	"unicode"
)

// minTokenLen drops single-character fragments left over after splitting.
const minTokenLen = 2

// TokenizeCode splits text into lowercase search tokens with code-aware
// rules: identifiers break at snake_case and camelCase boundaries, anything
// non-alphanumeric separates tokens, and fragments under two characters are
// dropped.
func TokenizeCode(text string) []string {
	var tokens []string
	emit := func(word string) {
		for _, part := range SplitCodeToken(word) {
			part = strings.ToLower(part)
			if len(part) >= minTokenLen {
				tokens = append(tokens, part)
			}
		}
	}

	start := -1
	for i, r := range text {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			emit(text[start:i])
			start = -1
		}
	}
	if start >= 0 {
		emit(text[start:])
	}
	return tokens
}

func isWordRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

// SplitCodeToken splits one identifier at underscores, then at case
// boundaries within each piece.
func SplitCodeToken(token string) []string {
	if !strings.Contains(token, "_") {
		return SplitCamelCase(token)
	}

	var parts []string
	for _, piece := range strings.Split(token, "_") {
		if piece != "" {
			parts = append(parts, SplitCamelCase(piece)...)
		}
	}
	return parts
}

// SplitCamelCase splits camelCase and PascalCase identifiers, keeping
// acronym runs together: "parseHTTPRequest" yields ["parse", "HTTP",
// "Request"].
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	runes := []rune(s)
	// A boundary sits before an upper rune that either follows a lower rune
	// or starts the tail of an acronym run (next rune is lower).
	boundary := func(i int) bool {
		if i == 0 || !unicode.IsUpper(runes[i]) {
			return false
		}
		return unicode.IsLower(runes[i-1]) ||
			(i+1 < len(runes) && unicode.IsLower(runes[i+1]))
	}

	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		if boundary(i) {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}

// FilterStopWords drops tokens present in the stop word set.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	kept := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, stop := stopWords[strings.ToLower(token)]; !stop {
			kept = append(kept, token)
		}
	}
	return kept
}

// BuildStopWordMap lowers a stop word list into a lookup set.
func BuildStopWordMap(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}
