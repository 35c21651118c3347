package scraper

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/marketplace-scraper/internal/models"
)

func searchURL(page string) string {
	return "https://shop.test/s?k=wireless+mouse&page=" + page
}

func TestDiscover(t *testing.T) {
	tests := []struct {
		name          string
		target        int
		pages         map[string]string
		expectedIDs   []string
		unvisitedURLs []string
	}{
		{
			name:   "stops as soon as target is reached",
			target: 2,
			pages: map[string]string{
				searchURL("1"): listingPage("A1", "A2"),
				searchURL("2"): listingPage("A3"),
			},
			expectedIDs:   []string{"A1", "A2"},
			unvisitedURLs: []string{searchURL("2")},
		},
		{
			name:   "never exceeds target within one page",
			target: 3,
			pages: map[string]string{
				searchURL("1"): listingPage("A1", "A2", "A3", "A4", "A5"),
			},
			expectedIDs: []string{"A1", "A2", "A3"},
		},
		{
			name:   "continues to next page and dedupes",
			target: 3,
			pages: map[string]string{
				searchURL("1"): listingPage("A1", "A2", "A1"),
				searchURL("2"): listingPage("A2", "A3"),
			},
			expectedIDs: []string{"A1", "A2", "A3"},
		},
		{
			name:   "empty page ends results",
			target: 5,
			pages: map[string]string{
				searchURL("1"): listingPage("A1"),
				searchURL("2"): listingPage(),
				searchURL("3"): listingPage("A9"),
			},
			expectedIDs:   []string{"A1"},
			unvisitedURLs: []string{searchURL("3")},
		},
		{
			name:   "page with only duplicates ends results",
			target: 5,
			pages: map[string]string{
				searchURL("1"): listingPage("A1", "A2"),
				searchURL("2"): listingPage("A1", "A2"),
				searchURL("3"): listingPage("A3"),
			},
			expectedIDs:   []string{"A1", "A2"},
			unvisitedURLs: []string{searchURL("3")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := newFakeSite()
			for url, html := range tt.pages {
				site.page(url, html)
			}

			d := NewDiscoverer(testMarketplace(), 0, nil)
			query := models.SearchQuery{Keyword: "wireless mouse", ProductCount: tt.target}

			refs, err := d.Discover(context.Background(), query, site.Fetch)
			require.NoError(t, err)

			ids := make([]string, len(refs))
			for i, ref := range refs {
				ids[i] = ref.ID
				assert.Equal(t, "https://shop.test/dp/"+ref.ID, ref.URL)
				assert.Equal(t, "testshop", ref.Marketplace)
			}
			assert.Equal(t, tt.expectedIDs, ids)
			assert.LessOrEqual(t, len(refs), tt.target)

			for _, url := range tt.unvisitedURLs {
				assert.Zero(t, site.visited(url), "should not fetch %s", url)
			}
		})
	}
}

func TestDiscoverPageCeiling(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context, url string) (*goquery.Document, error) {
		calls++
		// every page yields a new id, forever
		return newFakeSite().page(url, listingPage(fmt.Sprintf("P%d", calls))).serve(url)
	}

	d := NewDiscoverer(testMarketplace(), 3, nil)
	refs, err := d.Discover(context.Background(), models.SearchQuery{Keyword: "x", ProductCount: 100}, fetch)
	require.NoError(t, err)
	assert.Len(t, refs, 3)
	assert.Equal(t, 3, calls)
}

func TestDiscoverFailsWhenSearchPageUnavailable(t *testing.T) {
	site := newFakeSite()
	d := NewDiscoverer(testMarketplace(), 0, nil)

	refs, err := d.Discover(context.Background(), models.SearchQuery{Keyword: "wireless mouse", ProductCount: 2}, site.Fetch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDiscovery))
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Nil(t, refs)
}

func TestListingIDPattern(t *testing.T) {
	m := testMarketplace()
	m.Listing.IDPattern = regexp.MustCompile(`/itm/(\d+)`)

	id, ok := m.Listing.ID("https://www.ebay.com/itm/1234567?hash=abc")
	assert.True(t, ok)
	assert.Equal(t, "1234567", id)

	_, ok = m.Listing.ID("https://www.ebay.com/sch/other")
	assert.False(t, ok)
}
