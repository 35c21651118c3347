package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/marketplace-scraper/internal/models"
)

type ProductExtractor struct {
	market *Marketplace
	logger *slog.Logger
}

func NewProductExtractor(market *Marketplace, logger *slog.Logger) *ProductExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductExtractor{
		market: market,
		logger: logger.With("component", "product_extractor", "marketplace", market.Name),
	}
}

// Seed creates a record holding the input-derived fields and the default of
// every declared field, so no key is ever missing from output.
func (e *ProductExtractor) Seed(ref models.ProductReference, query models.SearchQuery) *models.Record {
	record := models.NewRecord()
	record.Set(models.FieldURL, ref.URL)
	record.Set(models.FieldKeyword, query.Keyword)
	record.Set(models.FieldMarketplace, e.market.Name)
	record.Set(models.FieldProductID, ref.ID)

	for _, f := range e.market.Fields {
		record.Set(f.Name(), f.Default())
	}
	for _, s := range e.market.Supplements {
		record.Set(s.Field.Name(), s.Field.Default())
	}
	record.Set(models.FieldReviews, []models.ReviewEntry{})

	return record
}

// Extract runs every declared field against doc. Fields are isolated from
// each other; only a missing required field fails the product, and even then
// the record keeps everything else that was found.
func (e *ProductExtractor) Extract(doc *goquery.Document, ref models.ProductReference, query models.SearchQuery) (*models.Record, error) {
	record := e.Seed(ref, query)
	return record, e.Fill(record, doc)
}

// Fill applies the declared fields to an already seeded record.
func (e *ProductExtractor) Fill(record *models.Record, doc *goquery.Document) error {
	var missing []string
	for _, f := range e.market.Fields {
		value, matched, err := f.Apply(doc.Selection)
		if err != nil {
			e.logger.Warn("field extraction failed", "field", f.Name(), "url", record.String(models.FieldURL), "error", err)
		}
		record.Set(f.Name(), value)

		if f.Required() && !matched {
			missing = append(missing, f.Name())
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrStructuralMismatch, strings.Join(missing, ", "))
	}
	return nil
}

// Supplement loads the secondary documents of a product. Failures leave the
// supplement's default in place.
func (e *ProductExtractor) Supplement(ctx context.Context, record *models.Record, ref models.ProductReference, fetch PageFetcher) {
	for _, s := range e.market.Supplements {
		target := s.URL(ref)
		if target == "" {
			continue
		}
		doc, err := fetch(ctx, target)
		if err != nil {
			e.logger.Warn("failed to load supplement", "field", s.Field.Name(), "url", target, "error", err)
			continue
		}
		value, _, err := s.Field.Apply(doc.Selection)
		if err != nil {
			e.logger.Warn("supplement extraction failed", "field", s.Field.Name(), "error", err)
		}
		record.Set(s.Field.Name(), value)
	}
}
