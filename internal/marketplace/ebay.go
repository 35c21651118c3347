package marketplace

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/parser"
	"github.com/maltedev/marketplace-scraper/internal/scraper"
)

const (
	ebayBase        = "https://www.ebay.com"
	ebayFeedbackURL = ebayBase + "/fdbk/feedback_profile/{seller}?filter=feedback_page%3ARECEIVED_AS_SELLER&sort=TIME&limit=200&q={id}"
	ebayDescURL     = "https://vi.vipr.ebaydesc.com/ws/eBayISAPI.dll?ViewItemDescV4&item={id}"
)

var ebayItemID = regexp.MustCompile(`/itm/(?:[^/?#]+/)?(\d+)`)

func Ebay() *scraper.Marketplace {
	return &scraper.Marketplace{
		Name:             "ebay",
		BaseURL:          ebayBase,
		SearchURL:        ebayBase + "/sch/i.html?_from=R40&_nkw={keyword}&_sacat=0&LH_TitleDesc=0&_pgn={page}",
		ListingTransport: scraper.Stateless,
		ProductTransport: scraper.Stateless,
		Listing: scraper.ListingSpec{
			Candidates: chain(
				parser.By(".clearfix > .s-item__pl-on-bottom .s-item__link", parser.AllAttr("href")),
				parser.By(".s-item__link", parser.AllAttr("href")),
			),
			IDPattern: ebayItemID,
		},
		ProductURL: ebayBase + "/itm/{id}",
		Fields:     ebayFields(),
		Supplements: []scraper.Supplement{{
			Field: parser.TextField("description",
				parser.By("td", parser.Map(parser.LastText, parser.CollapseSpaces)),
				parser.By("body", parser.Map(parser.NormalizedText, parser.CollapseSpaces)),
			),
			URL: func(ref models.ProductReference) string {
				return strings.ReplaceAll(ebayDescURL, "{id}", ref.ID)
			},
		}},
		Reviews: scraper.ReviewSpec{
			EntryPoint: ebayFeedbackEntry,
			PageParam:  "page_id",
			PageSize:   200,
			Nodes:      ".card__text",
			Text:       chain(parser.By("", parser.Text)),
			EmptyMarkers: []string{
				"This member has not received any feedback comments.",
			},
		},
		Block: scraper.BlockSpec{
			Titles:  []string{"Security Measure", "Pardon Our Interruption..."},
			Markers: []string{"Please verify yourself to continue"},
		},
	}
}

func ebayFields() []parser.Field {
	withoutPlaceholder := parser.Map(parser.AllText, parser.Without("Select"))

	return []parser.Field{
		parser.TextField("title",
			parser.By(".x-item-title__mainTitle .ux-textspans--BOLD", parser.NormalizedText),
			parser.By("h1.x-item-title__mainTitle", parser.NormalizedText),
		),
		parser.TextField("price",
			parser.By(".x-price-primary .ux-textspans", parser.Text),
		),
		parser.MapField("about_item",
			parser.By(".ux-layout-section-evo__item--table-view", parser.Zip(".ux-labels-values__labels", ".ux-labels-values__values span.ux-textspans")),
		),
		parser.ListField("color_variants",
			parser.By("[selectboxlabel*='Colour'] option", withoutPlaceholder),
			parser.By("[selectboxlabel*='Color'] option", withoutPlaceholder),
		),
		parser.ListField("sizes",
			parser.By("[selectboxlabel*='Size'] option", withoutPlaceholder),
		),
		parser.ListField("images",
			parser.By(".ux-image-filmstrip-carousel img", parser.Map(parser.AllAttr("src"), parser.Each(ebayFullSizeImage))),
		),
		parser.TextField("stock",
			parser.By(".d-quantity__availability", parser.NormalizedText),
		),
		parser.MapField("seller_ratings",
			parser.By(".fdbk-seller-rating__detailed-list .fdbk-detail-seller-rating",
				parser.Pairs(".fdbk-detail-seller-rating__label", ".fdbk-detail-seller-rating__value")),
		),
		parser.TextField("seller_username",
			parser.By(".d-stores-info-categories__container__action__contact", parser.Map(parser.Attr("href"), ebaySellerFromContact)),
			parser.By(".x-sellercard-atf__info__about-seller a span", parser.Text),
		),
		parser.Require(parser.TextField("category",
			parser.By(".seo-breadcrumbs-container li:nth-of-type(1) span", parser.NormalizedText),
			parser.By("nav.breadcrumbs li:nth-of-type(1) span", parser.NormalizedText),
		)),
	}
}

// ebayFeedbackEntry points at the seller's feedback filtered to this item.
// Without a seller name there is nothing to page through.
func ebayFeedbackEntry(_ *goquery.Selection, record *models.Record, ref models.ProductReference) (string, bool) {
	seller := record.String("seller_username")
	if seller == "" || ref.ID == "" {
		return "", false
	}
	return strings.NewReplacer("{seller}", url.PathEscape(seller), "{id}", ref.ID).Replace(ebayFeedbackURL), true
}

// ebaySellerFromContact reads the seller name from the contact link, whose
// third query pair carries it.
func ebaySellerFromContact(href string) string {
	if u, err := url.Parse(href); err == nil {
		if seller := u.Query().Get("requested"); seller != "" {
			return seller
		}
	}
	pairs := strings.Split(href, "&")
	if len(pairs) < 3 {
		return ""
	}
	kv := strings.Split(pairs[2], "=")
	return kv[len(kv)-1]
}

func ebayFullSizeImage(src string) string {
	return strings.Replace(strings.TrimSpace(src), "l64.jpg", "l1600.jpg", 1)
}
