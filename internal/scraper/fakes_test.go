package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/parser"
)

const blockPage = `<html><head><title>Robot Check</title></head><body>Type the characters you see</body></html>`

// fakeSite serves canned HTML by exact URL and records every visit.
type fakeSite struct {
	mu      sync.Mutex
	pages   map[string]string
	blocked map[string]int
	visits  []string
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:   make(map[string]string),
		blocked: make(map[string]int),
	}
}

func (s *fakeSite) page(url, html string) *fakeSite {
	s.pages[url] = html
	return s
}

// block makes the next n visits of url return a challenge page.
func (s *fakeSite) block(url string, n int) *fakeSite {
	s.blocked[url] = n
	return s
}

func (s *fakeSite) serve(url string) (*goquery.Document, error) {
	s.mu.Lock()
	s.visits = append(s.visits, url)
	html, ok := s.pages[url]
	if n := s.blocked[url]; n != 0 {
		if n > 0 {
			s.blocked[url] = n - 1
		}
		html, ok = blockPage, true
	}
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: 404 for %s", ErrTransport, url)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (s *fakeSite) visited(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.visits {
		if v == url {
			n++
		}
	}
	return n
}

func (s *fakeSite) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.serve(url)
}

type fakeSession struct {
	site     *fakeSite
	identity Identity
	factory  *fakeFactory
}

func (s *fakeSession) Navigate(ctx context.Context, url string) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.site.serve(url)
}

func (s *fakeSession) Identity() Identity { return s.identity }

func (s *fakeSession) Close() error {
	s.factory.mu.Lock()
	defer s.factory.mu.Unlock()
	s.factory.closed++
	return nil
}

type fakeFactory struct {
	site   *fakeSite
	mu     sync.Mutex
	opened int
	closed int
	agents []string
}

func (f *fakeFactory) NewSession(ctx context.Context, identity Identity) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	f.agents = append(f.agents, identity.UserAgent)
	return &fakeSession{site: f.site, identity: identity, factory: f}, nil
}

func (f *fakeFactory) counts() (opened, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened, f.closed
}

type fakeIdentities struct {
	mu sync.Mutex
	n  int
}

func (i *fakeIdentities) Next() Identity {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.n++
	return Identity{UserAgent: fmt.Sprintf("agent-%d", i.n)}
}

func testMarketplace() *Marketplace {
	return &Marketplace{
		Name:             "testshop",
		BaseURL:          "https://shop.test",
		SearchURL:        "https://shop.test/s?k={keyword}&page={page}",
		ListingTransport: Stateful,
		ProductTransport: Stateful,
		Listing: ListingSpec{
			Candidates: parser.Chain[[]string]{
				parser.By("div[data-asin]", parser.AllAttr("data-asin")),
			},
		},
		ProductURL: "https://shop.test/dp/{id}",
		Fields: []parser.Field{
			parser.TextField("title", parser.By("#title", parser.NormalizedText)),
			parser.TextField("price",
				parser.By(".priceToPay .a-offscreen", parser.Text),
				parser.By(".apexPriceToPay .a-offscreen", parser.JoinText("-")),
			),
			parser.ListField("images", parser.By("#imgs img", parser.AllAttr("src"))),
			parser.Require(parser.TextField("category", parser.By("li:nth-of-type(1) .crumb", parser.NormalizedText))),
		},
		Reviews: ReviewSpec{
			EntryPoint: func(doc *goquery.Selection, _ *models.Record, _ models.ProductReference) (string, bool) {
				href, ok := doc.Find("a.all-reviews").Attr("href")
				if !ok {
					return "", false
				}
				return "https://shop.test" + href, true
			},
			PageParam: "pageNumber",
			PageSize:  2,
			Nodes:     "div.review",
			Title:     parser.Chain[string]{parser.By(".title span", parser.LastText)},
			Text:      parser.Chain[string]{parser.By(".body", parser.Text)},
			Rating:    parser.Chain[string]{parser.By(".rating", parser.Text)},
			Helpful:   parser.Chain[string]{parser.By(".helpful", parser.Text)},
			EmptyMarkers: []string{
				"No customer reviews",
			},
		},
		Block: BlockSpec{Titles: []string{"Robot Check"}},
	}
}

func listingPage(ids ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<div data-asin="%s"><h2>%s</h2></div>`, id, id)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func productPage(title string, withCategory bool, reviewsPath string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, `<h1 id="title">%s</h1>`, title)
	b.WriteString(`<span class="a-price priceToPay"><span class="a-offscreen">$19.99</span></span>`)
	b.WriteString(`<div id="imgs"><img src="https://img.test/1.jpg"><img src="https://img.test/2.jpg"></div>`)
	if withCategory {
		b.WriteString(`<ul><li><a class="crumb">Electronics</a></li><li><a class="crumb">Mice</a></li></ul>`)
	}
	if reviewsPath != "" {
		fmt.Fprintf(&b, `<a class="all-reviews" href="%s">See all reviews</a>`, reviewsPath)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func reviewPage(titles ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i, t := range titles {
		fmt.Fprintf(&b, `<div class="review">
			<a class="title"><span>5.0 out of 5 stars</span><span>%s</span></a>
			<span class="rating">%d.0 out of 5 stars</span>
			<div class="body">Body of %s</div>
			<span class="helpful">two people found this helpful</span>
		</div>`, t, 5-i%5, t)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func reviewTitles(reviews []models.ReviewEntry) []string {
	titles := make([]string, len(reviews))
	for i, r := range reviews {
		titles[i] = r.Title
	}
	return titles
}
