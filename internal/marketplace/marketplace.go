// Package marketplace holds the per-site profiles: URL templates, selector
// chains and blocking signals for every supported marketplace.
package marketplace

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/parser"
	"github.com/maltedev/marketplace-scraper/internal/scraper"
)

var registry = map[string]func() *scraper.Marketplace{
	"amazon":  Amazon,
	"ebay":    Ebay,
	"walmart": Walmart,
}

// Lookup returns a fresh profile for name, matched case-insensitively.
func Lookup(name string) (*scraper.Marketplace, error) {
	build, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", scraper.ErrUnknownMarketplace, name)
	}
	return build(), nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// entryFromLinks resolves the first matching review link on the product page.
func entryFromLinks(base string, links parser.Chain[string]) scraper.EntryPointFunc {
	m := &scraper.Marketplace{BaseURL: base}
	return func(doc *goquery.Selection, _ *models.Record, _ models.ProductReference) (string, bool) {
		href, ok := links.TryExtract(doc)
		if !ok || strings.TrimSpace(href) == "" {
			return "", false
		}
		return m.Absolute(href), true
	}
}

// entryFromTemplate builds the review URL from the product id alone.
func entryFromTemplate(template string) scraper.EntryPointFunc {
	return func(_ *goquery.Selection, _ *models.Record, ref models.ProductReference) (string, bool) {
		if ref.ID == "" {
			return "", false
		}
		return strings.ReplaceAll(template, "{id}", ref.ID), true
	}
}

// firstEntry tries each entry point in order.
func firstEntry(entries ...scraper.EntryPointFunc) scraper.EntryPointFunc {
	return func(doc *goquery.Selection, record *models.Record, ref models.ProductReference) (string, bool) {
		for _, entry := range entries {
			if u, ok := entry(doc, record, ref); ok {
				return u, true
			}
		}
		return "", false
	}
}

func firstWord(s string) string {
	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func chain[T any](strategies ...parser.Strategy[T]) parser.Chain[T] {
	return strategies
}
