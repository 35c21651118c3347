package marketplace

import (
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/marketplace-scraper/internal/scraper"
)

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"amazon", "Ebay", " WALMART "} {
		m, err := Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, strings.ToLower(strings.TrimSpace(name)), m.Name)
		assert.NotEmpty(t, m.Fields)
	}

	_, err := Lookup("etsy")
	require.Error(t, err)
	assert.True(t, errors.Is(err, scraper.ErrUnknownMarketplace))

	assert.Equal(t, []string{"amazon", "ebay", "walmart"}, Names())
}

func TestLookupReturnsIndependentProfiles(t *testing.T) {
	a, err := Lookup("amazon")
	require.NoError(t, err)
	b, err := Lookup("amazon")
	require.NoError(t, err)

	a.Fields = nil
	assert.NotEmpty(t, b.Fields)
}

func TestEveryProfileRequiresCategory(t *testing.T) {
	for _, name := range Names() {
		m, err := Lookup(name)
		require.NoError(t, err)

		var required []string
		for _, f := range m.Fields {
			if f.Required() {
				required = append(required, f.Name())
			}
		}
		assert.Equal(t, []string{"category"}, required, name)
	}
}

func TestSearchURLs(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"amazon", "https://www.amazon.com/s?k=wireless+mouse&page=2"},
		{"ebay", "https://www.ebay.com/sch/i.html?_from=R40&_nkw=wireless+mouse&_sacat=0&LH_TitleDesc=0&_pgn=2"},
		{"walmart", "https://www.walmart.com/search?q=wireless+mouse&page=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Lookup(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, m.SearchPage("wireless  mouse", 2))
		})
	}
}
