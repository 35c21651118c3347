package scraper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/marketplace-scraper/internal/models"
)

const DefaultMaxSearchPages = 20

type Discoverer struct {
	market   *Marketplace
	maxPages int
	logger   *slog.Logger
}

func NewDiscoverer(market *Marketplace, maxPages int, logger *slog.Logger) *Discoverer {
	if maxPages <= 0 {
		maxPages = DefaultMaxSearchPages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{
		market:   market,
		maxPages: maxPages,
		logger:   logger.With("component", "discoverer", "marketplace", market.Name),
	}
}

// Discover pages through search results until query.ProductCount unique
// references are collected. A page with no new candidates ends the search;
// a page that cannot be loaded fails the whole discovery.
func (d *Discoverer) Discover(ctx context.Context, query models.SearchQuery, fetch PageFetcher) ([]models.ProductReference, error) {
	target := query.ProductCount
	refs := make([]models.ProductReference, 0, target)
	seen := make(map[string]struct{}, target)

	for page := 1; page <= d.maxPages && len(refs) < target; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		searchURL := d.market.SearchPage(query.Keyword, page)
		d.logger.Info("fetching search page", "page", page, "url", searchURL)

		doc, err := fetch(ctx, searchURL)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", ErrDiscovery, page, err)
		}

		candidates := d.market.Listing.Candidates.Extract(doc.Selection, nil)
		if len(candidates) == 0 {
			d.logger.Info("no candidates on page, end of results", "page", page)
			break
		}

		added := 0
		for _, candidate := range candidates {
			id, ok := d.market.Listing.ID(candidate)
			if !ok {
				continue
			}
			ref := models.ProductReference{
				Marketplace: d.market.Name,
				ID:          id,
				URL:         d.market.ProductPage(id),
			}
			if _, dup := seen[ref.URL]; dup {
				continue
			}
			seen[ref.URL] = struct{}{}
			refs = append(refs, ref)
			added++

			if len(refs) == target {
				break
			}
		}

		d.logger.Info("search page processed", "page", page, "candidates", len(candidates), "added", added, "total", len(refs))
		if added == 0 {
			break
		}
	}

	return refs, nil
}
