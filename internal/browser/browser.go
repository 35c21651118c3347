package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/marketplace-scraper/internal/scraper"
)

type Options struct {
	Headless    bool
	Timeout     time.Duration
	ProxyServer string
	// Humanize moves the mouse and scrolls after every navigation.
	Humanize     bool
	ExtraHeaders map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless: true,
		Timeout:  30 * time.Second,
		Humanize: true,
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Encoding": "gzip, deflate, br",
			"DNT":             "1",
		},
	}
}

var _ scraper.SessionFactory = (*PlaywrightFactory)(nil)

// PlaywrightFactory owns one Chromium process. Every session gets a browser
// context of its own, so cookies and fingerprint never leak between sessions.
type PlaywrightFactory struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    *Options
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func NewPlaywrightFactory(opts *Options, logger *slog.Logger) (*PlaywrightFactory, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
		},
	}
	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &PlaywrightFactory{
		pw:      pw,
		browser: browser,
		opts:    opts,
		logger:  logger.With("component", "browser", "driver", "playwright"),
	}, nil
}

func (f *PlaywrightFactory) NewSession(ctx context.Context, identity scraper.Identity) (scraper.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contextOpts := playwright.BrowserNewContextOptions{
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		ExtraHttpHeaders:  f.opts.ExtraHeaders,
	}
	if identity.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(identity.UserAgent)
	}
	if identity.Locale != "" {
		contextOpts.Locale = playwright.String(identity.Locale)
	}
	if identity.TimezoneID != "" {
		contextOpts.TimezoneId = playwright.String(identity.TimezoneID)
	}
	if identity.ViewportWidth > 0 && identity.ViewportHeight > 0 {
		contextOpts.Viewport = &playwright.Size{
			Width:  identity.ViewportWidth,
			Height: identity.ViewportHeight,
		}
	}

	bctx, err := f.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(f.opts.Timeout.Milliseconds()))

	return &playwrightSession{
		context:  bctx,
		page:     page,
		identity: identity,
		timeout:  f.opts.Timeout,
		humanize: f.opts.Humanize,
		logger:   f.logger.With("user_agent", identity.UserAgent),
	}, nil
}

func (f *PlaywrightFactory) Close() error {
	f.closeOnce.Do(func() {
		var errs []error
		if err := f.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
		if err := f.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
		f.closeErr = errors.Join(errs...)
	})
	return f.closeErr
}

type playwrightSession struct {
	context  playwright.BrowserContext
	page     playwright.Page
	identity scraper.Identity
	timeout  time.Duration
	humanize bool
	logger   *slog.Logger
}

type gotoResult struct {
	status int
	err    error
}

// Navigate loads url and returns the rendered document. Playwright calls do
// not take a context, so cancellation closes the page to abort the load; the
// session is unusable afterwards and must be closed by its owner.
func (s *playwrightSession) Navigate(ctx context.Context, url string) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan gotoResult, 1)
	go func() {
		resp, err := s.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(s.timeout.Milliseconds())),
		})
		status := 0
		if resp != nil {
			status = resp.Status()
		}
		done <- gotoResult{status: status, err: err}
	}()

	var res gotoResult
	select {
	case <-ctx.Done():
		_ = s.page.Close()
		return nil, ctx.Err()
	case res = <-done:
	}

	if res.err != nil {
		return nil, fmt.Errorf("%w: %w", scraper.ErrTransport, res.err)
	}
	if res.status != 0 {
		if err := scraper.StatusError(res.status, url); err != nil {
			return nil, err
		}
	}

	if s.humanize {
		if err := s.humanizeInteraction(ctx); err != nil {
			return nil, err
		}
	}

	content, err := s.page.Content()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read page content: %w", scraper.ErrTransport, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", scraper.ErrTransport, url, err)
	}
	return doc, nil
}

// humanizeInteraction wanders the mouse and scrolls a little so the page sees
// input events before anything is read from it.
func (s *playwrightSession) humanizeInteraction(ctx context.Context) error {
	for i := 0; i < 3; i++ {
		x := float64(100 + i*200 + rand.IntN(80))
		y := float64(100 + i*150 + rand.IntN(60))
		if err := s.page.Mouse().Move(x, y); err != nil {
			s.logger.Debug("mouse move failed", "error", err)
		}
		if err := sleep(ctx, time.Duration(200+i*100)*time.Millisecond); err != nil {
			return err
		}
	}

	if _, err := s.page.Evaluate(`window.scrollBy(0, Math.random() * 300)`); err != nil {
		s.logger.Debug("scroll failed", "error", err)
	}
	return sleep(ctx, 500*time.Millisecond)
}

func (s *playwrightSession) Identity() scraper.Identity {
	return s.identity
}

func (s *playwrightSession) Close() error {
	if err := s.context.Close(); err != nil {
		return fmt.Errorf("failed to close context: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
