package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/marketplace-scraper/internal/models"
)

const (
	DefaultMaxBlockedRetries = 3
	MaxWorkers               = 4
)

type Options struct {
	// Workers is the number of sessions processing products concurrently,
	// clamped to 1..MaxWorkers.
	Workers           int
	MaxBlockedRetries int
	MaxSearchPages    int
}

// Orchestrator runs discovery, product extraction and review pagination for
// one marketplace.
type Orchestrator struct {
	market     *Marketplace
	sessions   SessionFactory
	identities IdentitySource
	fetcher    Fetcher
	limiter    Limiter
	opts       Options

	discoverer *Discoverer
	extractor  *ProductExtractor
	logger     *slog.Logger
}

func NewOrchestrator(
	market *Marketplace,
	sessions SessionFactory,
	identities IdentitySource,
	fetcher Fetcher,
	limiter Limiter,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Workers > MaxWorkers {
		opts.Workers = MaxWorkers
	}
	if opts.MaxBlockedRetries < 0 {
		opts.MaxBlockedRetries = DefaultMaxBlockedRetries
	}

	return &Orchestrator{
		market:     market,
		sessions:   sessions,
		identities: identities,
		fetcher:    fetcher,
		limiter:    limiter,
		opts:       opts,
		discoverer: NewDiscoverer(market, opts.MaxSearchPages, logger),
		extractor:  NewProductExtractor(market, logger),
		logger:     logger.With("component", "orchestrator", "marketplace", market.Name),
	}
}

func (o *Orchestrator) Marketplace() string {
	return o.market.Name
}

// Run scrapes up to query.ProductCount products. Per-product faults degrade
// that product's outcome and never abort the batch; a failed discovery
// returns an error and no outcomes. On cancellation the outcomes finished so
// far are returned along with the context error.
func (o *Orchestrator) Run(ctx context.Context, query models.SearchQuery) ([]models.Outcome, error) {
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	lease, err := NewLease(ctx, o.sessions, o.identities, o.logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Close(); err != nil {
			o.logger.Warn("failed to release session", "error", err)
		}
	}()

	visitor := o.visitor()
	refs, err := o.discoverer.Discover(ctx, query, o.pageFetcher(o.market.ListingTransport, visitor, lease))
	if err != nil {
		return nil, err
	}
	o.logger.Info("discovery finished", "keyword", query.Keyword, "products", len(refs))

	if o.opts.Workers == 1 || len(refs) <= 1 {
		return o.runSequential(ctx, lease, visitor, refs, query)
	}
	return o.runPool(ctx, lease, refs, query)
}

func (o *Orchestrator) runSequential(
	ctx context.Context,
	lease *Lease,
	visitor *Visitor,
	refs []models.ProductReference,
	query models.SearchQuery,
) ([]models.Outcome, error) {
	outcomes := make([]models.Outcome, 0, len(refs))
	for _, ref := range refs {
		outcome := o.processProduct(ctx, lease, visitor, ref, query)
		// A product interrupted by cancellation is incomplete; drop it.
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// runPool splits refs round-robin across workers, each with its own session.
// Worker 0 keeps the lease used for discovery.
func (o *Orchestrator) runPool(ctx context.Context, first *Lease, refs []models.ProductReference, query models.SearchQuery) ([]models.Outcome, error) {
	workers := min(o.opts.Workers, len(refs))
	outcomes := make([]models.Outcome, len(refs))
	done := make([]bool, len(refs))

	var mu sync.Mutex
	var g errgroup.Group

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			lease := first
			if w > 0 {
				var err error
				lease, err = NewLease(ctx, o.sessions, o.identities, o.logger.With("worker", w))
				if err != nil {
					o.logger.Error("worker could not acquire a session", "worker", w, "error", err)
					for i := w; i < len(refs); i += workers {
						record := o.extractor.Seed(refs[i], query)
						mu.Lock()
						outcomes[i], done[i] = models.Failed(record, err), true
						mu.Unlock()
					}
					return nil
				}
				defer func() {
					if err := lease.Close(); err != nil {
						o.logger.Warn("failed to release session", "worker", w, "error", err)
					}
				}()
			}

			visitor := o.visitor()
			for i := w; i < len(refs); i += workers {
				outcome := o.processProduct(ctx, lease, visitor, refs[i], query)
				if ctx.Err() != nil {
					return nil
				}
				mu.Lock()
				outcomes[i], done[i] = outcome, true
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		finished := make([]models.Outcome, 0, len(refs))
		for i := range refs {
			if done[i] {
				finished = append(finished, outcomes[i])
			}
		}
		return finished, err
	}
	return outcomes, nil
}

// processProduct never panics and never returns an error: every fault is
// folded into the outcome.
func (o *Orchestrator) processProduct(
	ctx context.Context,
	lease *Lease,
	visitor *Visitor,
	ref models.ProductReference,
	query models.SearchQuery,
) (outcome models.Outcome) {
	logger := o.logger.With("url", ref.URL)
	record := o.extractor.Seed(ref, query)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("product extraction panicked", "panic", r)
			outcome = models.Failed(record, fmt.Errorf("panic: %v", r))
		}
	}()

	logger.Info("scraping product")
	doc, err := o.pageFetcher(o.market.ProductTransport, visitor, lease)(ctx, ref.URL)
	if err != nil {
		logger.Error("failed to load product page", "error", err)
		return models.Failed(record, err)
	}

	var errs []error
	if err := o.extractor.Fill(record, doc); err != nil {
		logger.Warn("product structure not recognised", "error", err)
		errs = append(errs, err)
	}
	o.extractor.Supplement(ctx, record, ref, o.pageFetcher(Stateless, visitor, lease))

	if query.ReviewCount > 0 && o.market.Reviews.EntryPoint != nil {
		if entry, ok := o.market.Reviews.EntryPoint(doc.Selection, record, ref); ok {
			paginator := NewPaginator(o.market.Reviews, visitor, logger)
			reviews, err := paginator.Paginate(ctx, lease, entry, query.ReviewCount)
			record.Set(models.FieldReviews, reviews)
			if err != nil {
				logger.Warn("review pagination stopped early", "collected", len(reviews), "error", err)
				errs = append(errs, fmt.Errorf("reviews: %w", err))
			}
		} else {
			logger.Info("no review entry point on product page")
		}
	}

	if len(errs) > 0 {
		return models.Failed(record, errors.Join(errs...))
	}
	logger.Info("product scraped", "reviews", len(record.Reviews()))
	return models.Succeeded(record)
}

func (o *Orchestrator) visitor() *Visitor {
	return &Visitor{
		Block:             o.market.Block,
		MaxBlockedRetries: o.opts.MaxBlockedRetries,
		Limiter:           o.limiter,
		Logger:            o.logger,
	}
}

func (o *Orchestrator) pageFetcher(t Transport, visitor *Visitor, lease *Lease) PageFetcher {
	if t == Stateless && o.fetcher != nil {
		return func(ctx context.Context, url string) (*goquery.Document, error) {
			return visitor.Fetch(ctx, o.fetcher, url)
		}
	}
	return func(ctx context.Context, url string) (*goquery.Document, error) {
		return visitor.Visit(ctx, lease, url)
	}
}

// Result is one marketplace's share of a multi-marketplace run.
type Result struct {
	Marketplace string
	Outcomes    []models.Outcome
	Err         error
}

// Runner scrapes several marketplaces in parallel. The orchestrators share
// no state, so one marketplace failing leaves the others untouched.
type Runner struct {
	orchestrators []*Orchestrator
}

func NewRunner(orchestrators ...*Orchestrator) *Runner {
	return &Runner{orchestrators: orchestrators}
}

func (r *Runner) Run(ctx context.Context, query models.SearchQuery) []Result {
	results := make([]Result, len(r.orchestrators))

	var g errgroup.Group
	for i, o := range r.orchestrators {
		g.Go(func() error {
			outcomes, err := o.Run(ctx, query)
			results[i] = Result{Marketplace: o.Marketplace(), Outcomes: outcomes, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
