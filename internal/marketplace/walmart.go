package marketplace

import (
	"regexp"
	"strings"

	"github.com/maltedev/marketplace-scraper/internal/parser"
	"github.com/maltedev/marketplace-scraper/internal/scraper"
)

const walmartBase = "https://www.walmart.com"

var walmartItemID = regexp.MustCompile(`/ip/(?:[^/?#]+/)?(\d+)`)

func Walmart() *scraper.Marketplace {
	return &scraper.Marketplace{
		Name:             "walmart",
		BaseURL:          walmartBase,
		SearchURL:        walmartBase + "/search?q={keyword}&page={page}",
		ListingTransport: scraper.Stateful,
		ProductTransport: scraper.Stateful,
		Listing: scraper.ListingSpec{
			Candidates: chain(
				parser.By(".ph1 .hide-sibling-opacity", parser.AllAttr("href")),
				parser.By("a[link-identifier][href*='/ip/']", parser.AllAttr("href")),
			),
			IDPattern: walmartItemID,
		},
		ProductURL: walmartBase + "/ip/{id}",
		Fields:     walmartFields(),
		Reviews: scraper.ReviewSpec{
			EntryPoint: entryFromTemplate(walmartBase + "/reviews/product/{id}"),
			PageParam:  "page",
			PageSize:   10,
			Nodes:      ".db-m",
			Title:      chain(parser.By("h3", parser.Text)),
			Text: chain(
				parser.By("span.tl-m", parser.Text),
				parser.By("", parser.Text),
			),
			Rating: chain(
				parser.By(".w_iUH7", parser.Text),
			),
			Helpful: chain(
				parser.By("button[aria-label*='Helpful'] span", parser.Text),
			),
		},
		Block: scraper.BlockSpec{
			Titles:    []string{"Robot or human?"},
			Selectors: []string{"#px-captcha"},
			Markers:   []string{"Activate and hold the button to confirm that you’re human"},
		},
	}
}

func walmartFields() []parser.Field {
	return []parser.Field{
		parser.TextField("title",
			parser.By("#main-title", parser.NormalizedText),
			parser.By("h1[itemprop='name']", parser.NormalizedText),
		),
		parser.TextField("description",
			parser.By(".nb3", parser.Map(parser.NormalizedText, parser.CollapseSpaces)),
			parser.By("[data-testid='product-description-content']", parser.Map(parser.NormalizedText, parser.CollapseSpaces)),
		),
		parser.TextField("price",
			parser.By("[itemprop='price']", parser.Map(parser.Text, func(s string) string {
				return strings.TrimSpace(strings.Replace(s, "Now ", "", 1))
			})),
		),
		parser.ListField("color_variants",
			parser.By("[data-testid='variant-group-0'] button [data-testid='variant-tile'] span.w_iUH7", parser.Map(parser.AllText, walmartColors)),
		),
		parser.ListField("sizes",
			parser.By("[data-testid='variant-group-1'] [data-testid='variant-tile'] [aria-hidden='true']", parser.AllText),
		),
		parser.ListField("images",
			parser.By("[data-testid='media-thumbnail'] img", parser.Map(parser.AllAttr("src"), parser.Each(walmartFullSizeImage))),
		),
		parser.TextField("ratings",
			parser.By("span.rating-number", parser.Map(parser.Text, func(s string) string {
				return strings.Trim(s, "() ")
			})),
		),
		parser.ListField("frequent_mentions",
			parser.By(".w_3hhZ", parser.Map(parser.AllText, parser.Each(parser.Normalize))),
		),
		parser.MapField("specifications",
			parser.By(".ph3.pb4.pt1 .nt1", parser.Pairs("h3", ".mv0.lh-copy.f6.mid-gray")),
		),
		parser.MapField("quick_highlights",
			parser.By(".pv2 .flex.w-100.mv2 li", parser.IndexedPairs("div", 0, 1)),
		),
		parser.Require(parser.TextField("category",
			parser.By("[data-testid='breadcrumb'] li:nth-of-type(1) a", parser.NormalizedText),
			parser.By("nav[aria-label='breadcrumb'] li:nth-of-type(1) a", parser.NormalizedText),
		)),
	}
}

// walmartColors keeps the second to last comma-separated part of each
// variant tile label, which holds the colour name, and skips unavailable
// variants.
func walmartColors(labels []string) []string {
	colors := make([]string, 0, len(labels))
	for _, label := range labels {
		if strings.Contains(label, "Out of stock") {
			continue
		}
		parts := strings.Split(label, ", ")
		if len(parts) >= 2 {
			label = parts[len(parts)-2]
		}
		if label = strings.TrimSpace(label); label != "" {
			colors = append(colors, label)
		}
	}
	return colors
}

// walmartFullSizeImage swaps the thumbnail sizing for the 2000px rendition.
func walmartFullSizeImage(src string) string {
	i := strings.Index(src, ".jpeg")
	if i < 0 {
		return strings.TrimSpace(src)
	}
	return src[:i] + ".jpeg?odnHeight=2000&odnWidth=2000&odnBg=FFFFFF"
}
