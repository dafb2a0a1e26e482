// Package names canonicalizes free-text lead names before they are written
// to the CRM or compared against what the CRM already stores.
package names

import (
	"strings"
	"unicode"
)

// Mode selects the normalization applied to a raw name.
type Mode int

const (
	// Title capitalizes each word, keeping configured minor words lowercase.
	Title Mode = iota
	// Upper uppercases the whole name.
	Upper
	// Lower lowercases the whole name.
	Lower
)

// DefaultMinorWords are Brazilian Portuguese connectives that stay lowercase
// inside a title-cased name ("João da Silva", not "João Da Silva").
func DefaultMinorWords() map[string]struct{} {
	return map[string]struct{}{
		"da": {}, "de": {}, "do": {}, "das": {}, "dos": {}, "e": {},
	}
}

// Normalize canonicalizes raw according to mode. Whitespace runs collapse to
// a single space. In Title mode, minor words stay lowercase except as the
// first token, hyphen/apostrophe sub-parts are capitalized independently, and
// short all-caps acronyms (2-4 letters, e.g. state abbreviations) survive
// verbatim.
func Normalize(raw string, mode Mode, minor map[string]struct{}) string {
	tokens := strings.Fields(raw)
	if len(tokens) == 0 {
		return ""
	}

	switch mode {
	case Upper:
		return strings.ToUpper(strings.Join(tokens, " "))
	case Lower:
		return strings.ToLower(strings.Join(tokens, " "))
	}

	out := make([]string, len(tokens))
	for i, token := range tokens {
		out[i] = titleToken(token, i == 0, minor)
	}
	return strings.Join(out, " ")
}

func titleToken(token string, first bool, minor map[string]struct{}) string {
	if !first && minor != nil {
		if _, ok := minor[strings.ToLower(token)]; ok {
			return strings.ToLower(token)
		}
	}

	if isShortAcronym(token) {
		return token
	}

	return capitalizeSubParts(token)
}

// capitalizeSubParts title-cases each segment of a hyphenated or
// apostrophe-containing token ("maria-josé" → "Maria-José").
func capitalizeSubParts(token string) string {
	var b strings.Builder
	b.Grow(len(token))

	startOfPart := true
	for _, r := range strings.ToLower(token) {
		if r == '-' || r == '\'' || r == '’' {
			b.WriteRune(r)
			startOfPart = true
			continue
		}
		if startOfPart {
			b.WriteRune(unicode.ToUpper(r))
			startOfPart = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isShortAcronym reports whether the token is a 2-4 letter all-caps acronym.
func isShortAcronym(token string) bool {
	runes := []rune(token)
	if len(runes) < 2 || len(runes) > 4 {
		return false
	}
	for _, r := range runes {
		if !unicode.IsUpper(r) || !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// NeedsUpdate reports whether the stored CRM name should be rewritten with
// the desired canonical form. All-upper or all-lower stored values signal
// un-normalized data even when they otherwise match.
func NeedsUpdate(current, desired string) bool {
	current = strings.Join(strings.Fields(current), " ")
	desired = strings.Join(strings.Fields(desired), " ")

	if current == "" {
		return true
	}
	if current != desired {
		return true
	}

	hasLetter := false
	allUpper := true
	allLower := true
	for _, r := range current {
		if !unicode.IsLetter(r) {
			continue
		}
		hasLetter = true
		if !unicode.IsUpper(r) {
			allUpper = false
		}
		if !unicode.IsLower(r) {
			allLower = false
		}
	}

	return hasLetter && (allUpper || allLower)
}
