package parser

import (
	"strconv"
	"strings"
	"unicode"
)

// Normalize canonicalizes a raw string pulled out of a page:
//  1. turn embedded newlines into single spaces;
//  2. drop every other rune of the Unicode "Other" categories (control,
//     format, private use, unassigned);
//  3. strip a trailing colon;
//  4. remove non-breaking spaces;
//  5. trim surrounding whitespace.
//
// Trailing colons are stripped together with the whitespace around them so
// that Normalize(Normalize(x)) == Normalize(x) holds for every input.
func Normalize(raw string) string {
	// newlines are control runes too, so they go before the category filter
	raw = strings.ReplaceAll(raw, "\r\n", " ")
	raw = strings.ReplaceAll(raw, "\n", " ")

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if isOther(r) {
			continue
		}
		b.WriteRune(r)
	}
	s := b.String()

	s = strings.ReplaceAll(s, "\u00a0", "")
	s = strings.TrimSpace(s)
	for strings.HasSuffix(s, ":") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ":"))
	}

	return s
}

// isOther reports whether r belongs to no letter, mark, number, punctuation,
// symbol or separator category, i.e. to Cc, Cf, Co, Cs or Cn.
func isOther(r rune) bool {
	return !unicode.In(r, unicode.L, unicode.M, unicode.N, unicode.P, unicode.S, unicode.Z)
}

// CollapseSpaces squeezes runs of whitespace into single spaces.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var spelledNumbers = map[string]int{
	"one":   1,
	"two":   2,
	"three": 3,
	"four":  4,
	"five":  5,
	"six":   6,
	"seven": 7,
	"eight": 8,
	"nine":  9,
	"ten":   10,
}

// ParseHelpfulCount reads a vote count from phrases like
// "127 people found this helpful" or "One person found this helpful".
// The first numeric or spelled-out word wins; no number yields 0.
func ParseHelpfulCount(phrase string) int {
	for _, word := range strings.Fields(phrase) {
		word = strings.Trim(word, ".!?()[]\"'")
		if n, err := strconv.Atoi(strings.ReplaceAll(word, ",", "")); err == nil {
			if n < 0 {
				return 0
			}
			return n
		}
		if n, ok := spelledNumbers[strings.ToLower(word)]; ok {
			return n
		}
	}
	return 0
}
