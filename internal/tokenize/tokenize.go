// Package tokenize splits code identifiers into normalized search tokens.
// It handles camelCase, PascalCase, snake_case, and dotted paths, and emits
// prefix tokens so the lexical index supports prefix search without a trie.
package tokenize

import (
	"regexp"
	"strings"
	"unicode"
)

// Prefix emission bounds. Tokens longer than MinPrefixSource chars also emit
// every prefix of length MinPrefix..MaxPrefix.
const (
	MinPrefix       = 2
	MaxPrefix       = 8
	MinPrefixSource = 4
)

// identRegex matches identifier-like runs (letters, digits, underscores).
var identRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// Split returns the normalized tokens for an identifier or free text.
// The whole identifier (lowercased) is always included alongside its
// segments. Tokens of length <= 1 are dropped.
func Split(text string) []string {
	set := make(map[string]struct{})
	for _, word := range identRegex.FindAllString(text, -1) {
		addToken(set, strings.ToLower(word))
		for _, seg := range segments(word) {
			addToken(set, strings.ToLower(seg))
		}
	}

	tokens := make([]string, 0, len(set))
	for t := range set {
		tokens = append(tokens, t)
	}
	return tokens
}

// WithPrefixes returns Split(text) plus proper prefixes of length
// MinPrefix up to but excluding min(len, MaxPrefix), for every token
// longer than 3 chars.
func WithPrefixes(text string) []string {
	set := make(map[string]struct{})
	for _, t := range Split(text) {
		set[t] = struct{}{}
	}
	for _, t := range Split(text) {
		if len(t) < MinPrefixSource {
			continue
		}
		limit := len(t)
		if limit > MaxPrefix {
			limit = MaxPrefix
		}
		for i := MinPrefix; i < limit; i++ {
			set[t[:i]] = struct{}{}
		}
	}

	tokens := make([]string, 0, len(set))
	for t := range set {
		tokens = append(tokens, t)
	}
	return tokens
}

// Query tokenizes a search query: lowercased whitespace-separated terms,
// each further split on identifier conventions.
func Query(query string) []string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(query)))
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func addToken(set map[string]struct{}, t string) {
	if len(t) > 1 {
		set[t] = struct{}{}
	}
}

// segments splits an identifier on underscores, dots, and camelCase
// boundaries. "parseHTTPRequest" -> ["parse", "HTTP", "Request"].
func segments(ident string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(ident, func(r rune) bool {
		return r == '_' || r == '.'
	}) {
		out = append(out, splitCamel(part)...)
	}
	return out
}

// splitCamel splits camelCase and PascalCase, keeping acronyms together:
// a boundary exists before an upper-case rune when the previous rune is
// lower-case, or when the next rune is lower-case (end of an acronym).
func splitCamel(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevLower || nextLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}
