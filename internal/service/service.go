// Package service ties marketplace profiles, transports and pacing into
// ready-to-run scrapes, and records what each run produced.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/marketplace-scraper/internal/config"
	"github.com/maltedev/marketplace-scraper/internal/events"
	"github.com/maltedev/marketplace-scraper/internal/marketplace"
	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/ratelimit"
	"github.com/maltedev/marketplace-scraper/internal/scraper"
)

var ErrInvalidQuery = errors.New("invalid query")

// ResultSaver persists the outcomes of one run and returns where they went.
type ResultSaver interface {
	Save(marketplace, keyword string, outcomes []models.Outcome) (string, error)
}

// RunPublisher announces finished runs.
type RunPublisher interface {
	PublishRun(ctx context.Context, run *events.RunCompletedPayload, outcomes []models.Outcome) error
}

type Config struct {
	Options      scraper.Options
	RateLimitMin time.Duration
	RateLimitMax time.Duration
	// Adaptive slows a run down after repeated blocks.
	Adaptive bool
}

// ConfigFrom maps the process configuration onto a service Config.
func ConfigFrom(cfg config.ScraperConfig) Config {
	return Config{
		Options: scraper.Options{
			Workers:           cfg.Workers,
			MaxBlockedRetries: cfg.MaxBlockedRetries,
			MaxSearchPages:    cfg.MaxSearchPages,
		},
		RateLimitMin: cfg.RateLimitMin,
		RateLimitMax: cfg.RateLimitMax,
		Adaptive:     cfg.Adaptive,
	}
}

// Report is everything one marketplace run produced.
type Report struct {
	RunID       string
	Marketplace string
	Query       models.SearchQuery
	Outcomes    []models.Outcome
	ResultPath  string
	Err         error
}

func (r *Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

type Service struct {
	sessions   scraper.SessionFactory
	fetcher    scraper.Fetcher
	identities scraper.IdentitySource
	cfg        Config

	results   ResultSaver
	publisher RunPublisher
	lookup    func(name string) (*scraper.Marketplace, error)
	logger    *slog.Logger
}

type Option func(*Service)

func WithResults(results ResultSaver) Option {
	return func(s *Service) { s.results = results }
}

func WithPublisher(publisher RunPublisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(
	sessions scraper.SessionFactory,
	fetcher scraper.Fetcher,
	identities scraper.IdentitySource,
	cfg Config,
	opts ...Option,
) *Service {
	s := &Service{
		sessions:   sessions,
		fetcher:    fetcher,
		identities: identities,
		cfg:        cfg,
		lookup:     marketplace.Lookup,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scraper_service")
	return s
}

// Marketplaces lists the names Scrape accepts.
func (s *Service) Marketplaces() []string {
	return marketplace.Names()
}

// Scrape runs one marketplace and returns its outcomes in discovery order.
func (s *Service) Scrape(ctx context.Context, name string, query models.SearchQuery) ([]models.Outcome, error) {
	report, err := s.Run(ctx, "", name, query)
	if err != nil {
		return nil, err
	}
	return report.Outcomes, report.Err
}

// Run scrapes one marketplace under runID (generated when empty), then saves
// and publishes the result. It only returns an error when the run could not
// start; run failures are carried in Report.Err.
func (s *Service) Run(ctx context.Context, runID, name string, query models.SearchQuery) (*Report, error) {
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	o, err := s.orchestrator(name)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		runID = uuid.New().String()
	}

	s.logger.Info("scrape started",
		"run_id", runID,
		"marketplace", o.Marketplace(),
		"keyword", query.Keyword,
		"products", query.ProductCount,
		"reviews", query.ReviewCount,
	)

	outcomes, runErr := o.Run(ctx, query)
	report := &Report{
		RunID:       runID,
		Marketplace: o.Marketplace(),
		Query:       query,
		Outcomes:    outcomes,
		Err:         runErr,
	}
	s.finish(ctx, report)

	return report, nil
}

// ScrapeAll runs several marketplaces in parallel. Each report stands on its
// own; a failing marketplace never affects the others.
func (s *Service) ScrapeAll(ctx context.Context, names []string, query models.SearchQuery) ([]*Report, error) {
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	orchestrators := make([]*scraper.Orchestrator, 0, len(names))
	for _, name := range names {
		o, err := s.orchestrator(name)
		if err != nil {
			return nil, err
		}
		orchestrators = append(orchestrators, o)
	}

	results := scraper.NewRunner(orchestrators...).Run(ctx, query)

	reports := make([]*Report, len(results))
	for i, res := range results {
		reports[i] = &Report{
			RunID:       uuid.New().String(),
			Marketplace: res.Marketplace,
			Query:       query,
			Outcomes:    res.Outcomes,
			Err:         res.Err,
		}
		s.finish(ctx, reports[i])
	}
	return reports, nil
}

func (s *Service) orchestrator(name string) (*scraper.Orchestrator, error) {
	market, err := s.lookup(name)
	if err != nil {
		return nil, err
	}

	// every run paces itself; marketplaces never share a limiter
	var limiter scraper.Limiter
	if s.cfg.Adaptive {
		limiter = ratelimit.NewAdaptiveRateLimiter(s.cfg.RateLimitMin, s.cfg.RateLimitMax)
	} else {
		limiter = ratelimit.NewSimpleRateLimiter(s.cfg.RateLimitMin, s.cfg.RateLimitMax)
	}

	return scraper.NewOrchestrator(market, s.sessions, s.identities, s.fetcher, limiter, s.cfg.Options, s.logger), nil
}

// finish saves and publishes a report. Neither step can fail the run; their
// errors are logged.
func (s *Service) finish(ctx context.Context, report *Report) {
	log := s.logger.With("run_id", report.RunID, "marketplace", report.Marketplace)

	if report.Err != nil {
		log.Error("scrape failed", "error", report.Err, "outcomes", len(report.Outcomes))
	} else {
		log.Info("scrape finished", "outcomes", len(report.Outcomes), "failed", report.Failed())
	}

	if s.results != nil && len(report.Outcomes) > 0 {
		path, err := s.results.Save(report.Marketplace, report.Query.Keyword, report.Outcomes)
		if err != nil {
			log.Error("failed to save results", "error", err)
		} else {
			report.ResultPath = path
		}
	}

	if s.publisher != nil {
		run := events.NewRunCompleted(report.RunID, report.Marketplace, report.Query, report.Outcomes, report.Err)
		run.ResultPath = report.ResultPath

		// a cancelled run still gets announced
		pubCtx := ctx
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			pubCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
		}
		if err := s.publisher.PublishRun(pubCtx, run, report.Outcomes); err != nil {
			log.Error("failed to publish run", "error", err)
		}
	}
}
