package scraper

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/parser"
)

// Transport selects how a page type is loaded.
type Transport int

const (
	// Stateless pages are fetched with plain HTTP requests.
	Stateless Transport = iota
	// Stateful pages go through the leased browser session.
	Stateful
)

func (t Transport) String() string {
	if t == Stateful {
		return "session"
	}
	return "stateless"
}

// Marketplace describes one site entirely as data: URL templates, selector
// chains and blocking signals. The pipeline code is shared by all variants.
type Marketplace struct {
	Name    string
	BaseURL string

	// SearchURL contains {keyword} and {page} placeholders.
	SearchURL        string
	ListingTransport Transport
	ProductTransport Transport
	Listing          ListingSpec

	// ProductURL contains an {id} placeholder.
	ProductURL string
	Fields     []parser.Field
	// Supplements are fields read from secondary documents, such as a
	// description served in its own frame.
	Supplements []Supplement

	Reviews ReviewSpec
	Block   BlockSpec
}

// SearchPage builds the search results URL for one page.
func (m *Marketplace) SearchPage(keyword string, page int) string {
	return strings.NewReplacer(
		"{keyword}", url.QueryEscape(strings.Join(strings.Fields(keyword), " ")),
		"{page}", strconv.Itoa(page),
	).Replace(m.SearchURL)
}

// ProductPage converts a listing identifier into its canonical product URL.
func (m *Marketplace) ProductPage(id string) string {
	return strings.ReplaceAll(m.ProductURL, "{id}", url.PathEscape(id))
}

// Absolute resolves href against the marketplace base URL.
func (m *Marketplace) Absolute(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	base, err := url.Parse(m.BaseURL)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

type ListingSpec struct {
	// Candidates yields raw identifiers or hrefs from a search results page.
	Candidates parser.Chain[[]string]
	// IDPattern, when set, pulls the identifier out of each candidate through
	// its first capture group. Candidates that do not match are skipped.
	IDPattern *regexp.Regexp
}

func (l ListingSpec) ID(candidate string) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}
	if l.IDPattern == nil {
		return candidate, true
	}
	m := l.IDPattern.FindStringSubmatch(candidate)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return m[1], true
}

type Supplement struct {
	Field parser.Field
	URL   func(ref models.ProductReference) string
}

// EntryPointFunc locates the first review page of a product. It sees the
// product document and the record extracted from it.
type EntryPointFunc func(doc *goquery.Selection, record *models.Record, ref models.ProductReference) (string, bool)

type ReviewSpec struct {
	EntryPoint EntryPointFunc
	// PageParam is the query parameter carrying the 1-based page number.
	PageParam string
	// PageSize is the number of entries on a full page; shorter pages are
	// the last ones.
	PageSize int
	// Nodes selects one element per review entry.
	Nodes   string
	Title   parser.Chain[string]
	Text    parser.Chain[string]
	Rating  parser.Chain[string]
	Helpful parser.Chain[string]
	// EmptyMarkers are phrases a page shows instead of reviews.
	EmptyMarkers []string
}

// PageURL sets the page parameter on the review entry point.
func (r ReviewSpec) PageURL(entry string, page int) string {
	u, err := url.Parse(entry)
	if err != nil {
		sep := "?"
		if strings.Contains(entry, "?") {
			sep = "&"
		}
		return entry + sep + r.PageParam + "=" + strconv.Itoa(page)
	}
	q := u.Query()
	q.Set(r.PageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

func (r ReviewSpec) entry(node *goquery.Selection) models.ReviewEntry {
	return models.ReviewEntry{
		Title:        r.Title.Extract(node, ""),
		Text:         parser.Normalize(r.Text.Extract(node, "")),
		Rating:       r.Rating.Extract(node, ""),
		HelpfulCount: parser.ParseHelpfulCount(r.Helpful.Extract(node, "")),
	}
}

func (r ReviewSpec) empty(doc *goquery.Document) bool {
	if len(r.EmptyMarkers) == 0 {
		return false
	}
	text := doc.Text()
	for _, marker := range r.EmptyMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// BlockSpec recognises anti-automation challenge pages that load with a
// normal status code.
type BlockSpec struct {
	Titles    []string
	Markers   []string
	Selectors []string
}

func (b BlockSpec) Detect(doc *goquery.Document) bool {
	if doc == nil {
		return false
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	for _, t := range b.Titles {
		if title != "" && strings.EqualFold(title, t) {
			return true
		}
	}
	for _, sel := range b.Selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	if len(b.Markers) > 0 {
		text := doc.Text()
		for _, marker := range b.Markers {
			if strings.Contains(text, marker) {
				return true
			}
		}
	}
	return false
}
