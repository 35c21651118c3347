package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Accessors turn the nodes matched by a Select strategy into a value.

func Text(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.First().Text())
}

func NormalizedText(sel *goquery.Selection) string {
	return Normalize(sel.First().Text())
}

// LastText returns the text of the last match. Review titles nest the visible
// title after a rating span, so the last one is the one wanted.
func LastText(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.Last().Text())
}

func AllText(sel *goquery.Selection) []string {
	texts := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			texts = append(texts, text)
		}
	})
	return texts
}

// JoinText joins the trimmed text of every match with sep.
func JoinText(sep string) func(*goquery.Selection) string {
	return func(sel *goquery.Selection) string {
		parts := make([]string, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				parts = append(parts, text)
			}
		})
		return strings.Join(parts, sep)
	}
}

// JoinNormalized is JoinText with every part normalized first.
func JoinNormalized(sep string) func(*goquery.Selection) string {
	return func(sel *goquery.Selection) string {
		parts := make([]string, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) {
			if text := Normalize(s.Text()); text != "" {
				parts = append(parts, text)
			}
		})
		return strings.Join(parts, sep)
	}
}

func Attr(name string) func(*goquery.Selection) string {
	return func(sel *goquery.Selection) string {
		value, _ := sel.First().Attr(name)
		return strings.TrimSpace(value)
	}
}

// AllAttr collects a non-empty attribute from every match, keeping order.
func AllAttr(name string) func(*goquery.Selection) []string {
	return func(sel *goquery.Selection) []string {
		values := make([]string, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) {
			if value, ok := s.Attr(name); ok && strings.TrimSpace(value) != "" {
				values = append(values, strings.TrimSpace(value))
			}
		})
		return values
	}
}

// Pairs builds a key/value mapping from every match, reading the key and the
// value from child selectors. Rows without a key are skipped.
func Pairs(keySelector, valueSelector string) func(*goquery.Selection) map[string]string {
	return func(sel *goquery.Selection) map[string]string {
		pairs := make(map[string]string, sel.Length())
		sel.Each(func(_ int, row *goquery.Selection) {
			key := Normalize(row.Find(keySelector).First().Text())
			if key == "" {
				return
			}
			pairs[key] = Normalize(row.Find(valueSelector).First().Text())
		})
		return pairs
	}
}

// IndexedPairs is Pairs for rows whose key and value are positional children,
// such as <td> cells or <span> siblings.
func IndexedPairs(childSelector string, keyIndex, valueIndex int) func(*goquery.Selection) map[string]string {
	return func(sel *goquery.Selection) map[string]string {
		pairs := make(map[string]string, sel.Length())
		sel.Each(func(_ int, row *goquery.Selection) {
			children := row.Find(childSelector)
			if children.Length() <= keyIndex || children.Length() <= valueIndex {
				return
			}
			key := CollapseSpaces(strings.TrimSuffix(Normalize(children.Eq(keyIndex).Text()), ":"))
			if key == "" {
				return
			}
			pairs[key] = CollapseSpaces(Normalize(children.Eq(valueIndex).Text()))
		})
		return pairs
	}
}

// Zip pairs the n-th key node with the n-th value node below the match, for
// layouts that render labels and values as parallel lists.
func Zip(keySelector, valueSelector string) func(*goquery.Selection) map[string]string {
	return func(sel *goquery.Selection) map[string]string {
		keys := sel.Find(keySelector)
		values := sel.Find(valueSelector)
		pairs := make(map[string]string, keys.Length())
		for i := 0; i < keys.Length() && i < values.Length(); i++ {
			key := Normalize(keys.Eq(i).Text())
			if key == "" {
				continue
			}
			pairs[key] = Normalize(values.Eq(i).Text())
		}
		return pairs
	}
}

// Map post-processes another accessor's result.
func Map[T, U any](access func(*goquery.Selection) T, fn func(T) U) func(*goquery.Selection) U {
	return func(sel *goquery.Selection) U {
		return fn(access(sel))
	}
}

// Each applies fn to every element of a string slice, dropping empty results
// and duplicates while keeping first-seen order.
func Each(fn func(string) string) func([]string) []string {
	return func(in []string) []string {
		out := make([]string, 0, len(in))
		seen := make(map[string]struct{}, len(in))
		for _, s := range in {
			s = fn(s)
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
		return out
	}
}

// Without drops every element containing one of the given substrings.
func Without(substrings ...string) func([]string) []string {
	return func(in []string) []string {
		out := make([]string, 0, len(in))
	next:
		for _, s := range in {
			for _, sub := range substrings {
				if strings.Contains(s, sub) {
					continue next
				}
			}
			out = append(out, s)
		}
		return out
	}
}

// Skip drops the first n elements, e.g. a "Select" placeholder option.
func Skip(n int) func([]string) []string {
	return func(in []string) []string {
		if len(in) <= n {
			return []string{}
		}
		return in[n:]
	}
}
