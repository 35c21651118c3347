package scraper

import (
	"context"
	"log/slog"

	"github.com/maltedev/marketplace-scraper/internal/models"
)

type Paginator struct {
	spec    ReviewSpec
	visitor *Visitor
	logger  *slog.Logger
}

func NewPaginator(spec ReviewSpec, visitor *Visitor, logger *slog.Logger) *Paginator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Paginator{
		spec:    spec,
		visitor: visitor,
		logger:  logger.With("component", "paginator"),
	}
}

// Paginate collects up to target reviews starting at entry, in display
// order. A short or empty page ends pagination without error. Blocked pages
// are retried on a rotated session without advancing the page counter; when
// the retries run out the reviews collected so far are returned together
// with ErrBlocked.
func (p *Paginator) Paginate(ctx context.Context, lease *Lease, entry string, target int) ([]models.ReviewEntry, error) {
	reviews := make([]models.ReviewEntry, 0, max(target, 0))
	if target <= 0 || entry == "" {
		return reviews, nil
	}

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return reviews, err
		}

		pageURL := p.spec.PageURL(entry, page)
		doc, err := p.visitor.Visit(ctx, lease, pageURL)
		if err != nil {
			return reviews, err
		}

		if p.spec.empty(doc) {
			p.logger.Debug("no reviews marker found", "url", pageURL)
			break
		}

		nodes := doc.Find(p.spec.Nodes)
		for i := 0; i < nodes.Length() && len(reviews) < target; i++ {
			reviews = append(reviews, p.spec.entry(nodes.Eq(i)))
		}

		p.logger.Debug("review page processed", "page", page, "nodes", nodes.Length(), "collected", len(reviews))
		if len(reviews) >= target || nodes.Length() < p.spec.PageSize || nodes.Length() == 0 {
			break
		}
	}

	return reviews, nil
}
