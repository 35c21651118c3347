package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/maltedev/marketplace-scraper/internal/browser"
	"github.com/maltedev/marketplace-scraper/internal/config"
	"github.com/maltedev/marketplace-scraper/internal/fetch"
	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/service"
	"github.com/maltedev/marketplace-scraper/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewMain().Run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// CLI defines the command line for Kong.
type CLI struct {
	Marketplace string `arg:"" help:"Marketplace to search: amazon, ebay or walmart."`
	Keyword     string `arg:"" help:"Search keyword."`

	Products int    `short:"n" default:"10" help:"Number of products to scrape."`
	Reviews  int    `short:"r" default:"0" help:"Number of reviews per product."`
	Out      string `short:"o" type:"path" help:"Write outcomes to this file instead of stdout."`
	Workers  int    `short:"w" help:"Concurrent sessions (1-4); overrides SCRAPER_WORKERS."`
	Driver   string `help:"Browser driver (playwright or rod); overrides BROWSER_DRIVER."`
}

// Scraper runs one marketplace.
type Scraper interface {
	Scrape(ctx context.Context, marketplace string, query models.SearchQuery) ([]models.Outcome, error)
}

// Main holds the program's swappable dependencies.
type Main struct {
	LoadConfig func() (*config.Config, error)
	// NewScraper returns the scraper and a function releasing its resources.
	NewScraper func(cfg *config.Config, logger *slog.Logger) (Scraper, func() error, error)
}

func NewMain() *Main {
	return &Main{
		LoadConfig: config.Load,
		NewScraper: newBrowserScraper,
	}
}

// Run parses args, scrapes and writes the outcomes as JSON.
func (m *Main) Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cli := &CLI{}
	parser, err := kong.New(cli,
		kong.Name("scrape"),
		kong.Description("Scrape products and reviews from a marketplace search"),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) {}),
	)
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}

	if len(args) == 0 {
		_, _ = parser.Parse([]string{"--help"})
		return fmt.Errorf("no arguments provided")
	}
	if len(args) == 1 && (args[0] == "--help" || args[0] == "-h") {
		_, _ = parser.Parse([]string{"--help"})
		return nil
	}

	if _, err := parser.Parse(args); err != nil {
		return err
	}

	cfg, err := m.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cli.Workers > 0 {
		cfg.Scraper.Workers = cli.Workers
	}
	if cli.Driver != "" {
		cfg.Browser.Driver = cli.Driver
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// stdout carries the JSON result
	logger := cfg.Logging.NewLoggerTo(stderr)

	scraper, closeFn, err := m.NewScraper(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFn(); err != nil {
			logger.Warn("failed to release browser", "error", err)
		}
	}()

	query := models.SearchQuery{
		Keyword:      cli.Keyword,
		ProductCount: cli.Products,
		ReviewCount:  cli.Reviews,
	}
	outcomes, scrapeErr := scraper.Scrape(ctx, cli.Marketplace, query)

	// partial outcomes of a cancelled run are still written
	if scrapeErr == nil || len(outcomes) > 0 {
		if err := writeOutcomes(cli.Out, stdout, outcomes); err != nil {
			return errors.Join(scrapeErr, err)
		}
	}
	if scrapeErr != nil {
		return fmt.Errorf("scrape failed: %w", scrapeErr)
	}

	failed := 0
	for _, o := range outcomes {
		if o.Failed() {
			failed++
		}
	}
	logger.Info("scrape complete", "marketplace", cli.Marketplace, "products", len(outcomes), "failed", failed)
	return nil
}

func writeOutcomes(path string, stdout io.Writer, outcomes []models.Outcome) error {
	if path != "" {
		return storage.WriteFile(path, outcomes)
	}
	if outcomes == nil {
		outcomes = []models.Outcome{}
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(outcomes)
}

func newBrowserScraper(cfg *config.Config, logger *slog.Logger) (Scraper, func() error, error) {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.Timeout = cfg.Browser.Timeout
	opts.Humanize = cfg.Browser.Humanize
	opts.ProxyServer = cfg.Browser.Proxy

	factory, err := browser.NewFactory(cfg.Browser.Driver, opts, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Hint: run `go run github.com/playwright-community/playwright-go/cmd/playwright install chromium` or install Chrome for rod")
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}

	identities := browser.NewIdentities(cfg.Scraper.UserAgents, cfg.Browser.Locale, cfg.Browser.Timezone)
	fetcher := fetch.NewClient(
		fetch.WithTimeout(cfg.Scraper.RequestTimeout),
		fetch.WithIdentities(identities),
		fetch.WithLogger(logger),
	)

	svc := service.NewService(factory, fetcher, identities, service.ConfigFrom(cfg.Scraper), service.WithLogger(logger))
	return svc, factory.Close, nil
}
