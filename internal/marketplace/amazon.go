package marketplace

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/marketplace-scraper/internal/parser"
	"github.com/maltedev/marketplace-scraper/internal/scraper"
)

const amazonBase = "https://www.amazon.com"

func Amazon() *scraper.Marketplace {
	return &scraper.Marketplace{
		Name:             "amazon",
		BaseURL:          amazonBase,
		SearchURL:        amazonBase + "/s?k={keyword}&page={page}",
		ListingTransport: scraper.Stateful,
		ProductTransport: scraper.Stateful,
		Listing: scraper.ListingSpec{
			Candidates: chain(
				parser.By("div.s-result-item.s-asin[data-asin]", parser.AllAttr("data-asin")),
				parser.By("div.s-result-item[data-asin]", parser.AllAttr("data-asin")),
			),
		},
		ProductURL: "https://amazon.com/dp/{id}",
		Fields:     amazonFields(),
		Reviews: scraper.ReviewSpec{
			EntryPoint: firstEntry(
				entryFromLinks(amazonBase, chain(
					parser.By("#cr-pagination-footer-0 .a-text-bold", parser.Attr("href")),
					parser.By("a[data-hook='see-all-reviews-link-foot']", parser.Attr("href")),
				)),
				entryFromTemplate(amazonBase+"/product-reviews/{id}?reviewerType=all_reviews"),
			),
			PageParam: "pageNumber",
			PageSize:  10,
			Nodes:     "div.a-section.review.aok-relative",
			Title: chain(
				parser.By("a[data-hook='review-title'] span", parser.LastText),
				parser.By("[data-hook='review-title'] span", parser.LastText),
			),
			Text: chain(
				parser.By(".review-text-content span", parser.JoinText(" ")),
			),
			Rating: chain(
				parser.By("i.a-icon-star span.a-icon-alt", parser.Text),
				parser.By("i[data-hook='review-star-rating'] span", parser.Text),
				parser.By("i[data-hook='cmps-review-star-rating'] span", parser.Text),
			),
			Helpful: chain(
				parser.By("span[data-hook='helpful-vote-statement']", parser.Text),
			),
		},
		Block: scraper.BlockSpec{
			Titles:    []string{"Robot Check", "Amazon.com", "Sorry! Something went wrong!"},
			Selectors: []string{"#captchacharacters", "form[action='/errors/validateCaptcha']"},
			Markers: []string{
				"Enter the characters you see below",
				"Type the characters you see in this image",
			},
		},
	}
}

func amazonFields() []parser.Field {
	return []parser.Field{
		parser.TextField("title",
			parser.By("h1#title", parser.NormalizedText),
			parser.By("#productTitle", parser.NormalizedText),
		),
		parser.TextField("ratings",
			parser.By("#reviewsMedley .a-size-medium", parser.Text),
			parser.By("#acrPopover .a-icon-alt", parser.Text),
		),
		parser.ListField("size_chart",
			parser.By(".apm-centerthirdcol.apm-wrap ul.a-unordered-list.a-vertical li span.a-list-item", parser.AllText),
		),
		parser.TextField("price",
			parser.By(".a-price.aok-align-center.reinventPricePriceToPayMargin.priceToPay .a-offscreen", parser.Text),
			parser.By(".a-price.priceToPay span[aria-hidden='true']", parser.Text),
			parser.By(".a-price.a-text-price.a-size-medium.apexPriceToPay .a-offscreen", parser.JoinText("-")),
		),
		parser.ListField("images",
			parser.By("#altImages .imageThumbnail img", parser.Map(parser.AllAttr("src"), parser.Each(amazonFullSizeImage))),
		),
		parser.TextField("description",
			parser.By("#productDescription span", parser.JoinNormalized(" ")),
			parser.By("div.aplus-v2.desktop.celwidget", parser.Map(parser.NormalizedText, parser.CollapseSpaces)),
		),
		parser.ListField("sizes",
			parser.By("#native_dropdown_selected_size_name option", parser.Map(parser.AllText, parser.Skip(1))),
			parser.By("li.swatch-list-item-text span.swatch-title-text", parser.AllText),
		),
		parser.MapField("rating_by_features",
			parser.By("#cr-dp-summarization-attributes .a-fixed-right-grid.a-spacing-base",
				parser.Pairs(".a-row .a-size-base.a-color-base", ".a-size-base.a-color-tertiary")),
		),
		parser.TextField("total_ratings",
			parser.By(".averageStarRatingNumerical .a-color-secondary", parser.Map(parser.Text, firstWord)),
		),
		parser.MapField("product_info", parser.Func[map[string]string](amazonProductInfo)),
		parser.Require(parser.TextField("category",
			parser.By("#wayfinding-breadcrumbs_feature_div li:nth-of-type(1) .a-color-tertiary", parser.NormalizedText),
			parser.By("li:nth-of-type(1) .a-color-tertiary", parser.NormalizedText),
		)),
		parser.ListField("read_review_keywords",
			parser.By(".cr-lighthouse-terms .a-declarative", parser.AllText),
		),
		parser.ListField("color_variants",
			parser.By("#variation_color_name li img", parser.AllAttr("alt")),
			parser.By("#tp-inline-twister-dim-values-container li img", parser.AllAttr("alt")),
		),
		parser.TextField("about_item",
			parser.By("#featurebullets_feature_div li span.a-list-item", parser.JoinNormalized("\n")),
			parser.By("#productFactsDesktopExpander li span.a-list-item", parser.JoinNormalized("\n")),
		),
		parser.TextField("warranty",
			parser.By("#productDetails_warranty_support_sections", parser.Map(parser.NormalizedText, parser.CollapseSpaces)),
		),
		parser.ListField("accessories",
			parser.By(".swatchesSquare li p.a-text-left.a-size-base", parser.AllText),
		),
		parser.MapField("overview",
			parser.By("#productOverview_feature_div table tr", parser.IndexedPairs("td", 0, 1)),
			parser.By("#productFactsDesktopExpander div.a-fixed-left-grid.product-facts-detail", parser.IndexedPairs("span.a-color-base", 0, 1)),
		),
		parser.MapField("customer_reviews",
			parser.By(".cr-widget-TitleRatingsAndHistogram .a-normal.a-align-center.a-spacing-base tr",
				parser.Pairs("td:nth-of-type(1) span.a-size-base", "td:nth-of-type(3)")),
			parser.By("#cm_cr_dp_d_rating_histogram .a-normal.a-align-center.a-spacing-base tr", parser.IndexedPairs("td", 0, 2)),
		),
	}
}

// amazonProductInfo merges the detail bullets with the technical details
// table; table entries win on conflicting keys.
func amazonProductInfo(root *goquery.Selection) (map[string]string, bool) {
	bullets, hasBullets := parser.By("#detailBullets_feature_div ul li .a-list-item", parser.IndexedPairs("span", 0, 1)).TryExtract(root)
	table, hasTable := parser.By("#prodDetails .prodDetTable tr", parser.Pairs("th", "td")).TryExtract(root)
	if !hasBullets && !hasTable {
		return nil, false
	}

	info := make(map[string]string, len(bullets)+len(table))
	for k, v := range bullets {
		info[k] = v
	}
	for k, v := range table {
		info[k] = v
	}
	return info, true
}

// amazonFullSizeImage drops the size token from a thumbnail URL:
// ".../I/41abc._AC_US40_.jpg" becomes ".../I/41abc.jpg".
func amazonFullSizeImage(src string) string {
	parts := strings.Split(strings.TrimSpace(src), ".")
	if len(parts) < 3 || !strings.HasPrefix(parts[len(parts)-2], "_") {
		return src
	}
	return strings.Join(parts[:len(parts)-2], ".") + "." + parts[len(parts)-1]
}
