package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/maltedev/marketplace-scraper/internal/scraper"
)

var _ scraper.SessionFactory = (*RodFactory)(nil)

// RodFactory drives Chrome over CDP. Sessions are incognito contexts of one
// shared browser process.
type RodFactory struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	timeout  time.Duration
	logger   *slog.Logger
	closed   atomic.Bool
}

func NewRodFactory(opts *Options, logger *slog.Logger) (*RodFactory, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := launcher.New().
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("disable-background-timer-throttling").
		Leakless(true).
		Headless(opts.Headless)
	if opts.ProxyServer != "" {
		l = l.Proxy(opts.ProxyServer)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &RodFactory{
		browser:  browser,
		launcher: l,
		timeout:  opts.Timeout,
		logger:   logger.With("component", "browser", "driver", "rod"),
	}, nil
}

func (f *RodFactory) NewSession(ctx context.Context, identity scraper.Identity) (scraper.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	incognito, err := f.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("failed to create incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		incognito.Close()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	if err := applyIdentity(page, identity); err != nil {
		page.Close()
		incognito.Close()
		return nil, err
	}

	return &rodSession{
		incognito: incognito,
		page:      page,
		identity:  identity,
		timeout:   f.timeout,
	}, nil
}

func applyIdentity(page *rod.Page, identity scraper.Identity) error {
	if identity.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      identity.UserAgent,
			AcceptLanguage: identity.Locale,
		}); err != nil {
			return fmt.Errorf("failed to set user agent: %w", err)
		}
	}
	if identity.ViewportWidth > 0 && identity.ViewportHeight > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             identity.ViewportWidth,
			Height:            identity.ViewportHeight,
			DeviceScaleFactor: 1,
		}); err != nil {
			return fmt.Errorf("failed to set viewport: %w", err)
		}
	}
	if identity.TimezoneID != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: identity.TimezoneID}).Call(page); err != nil {
			return fmt.Errorf("failed to set timezone: %w", err)
		}
	}
	return nil
}

// Close is safe to call multiple times.
func (f *RodFactory) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := f.browser.Close()
	f.launcher.Kill()
	return err
}

type rodSession struct {
	incognito *rod.Browser
	page      *rod.Page
	identity  scraper.Identity
	timeout   time.Duration
}

// Navigate loads url and returns the rendered document. Rod has no access to
// the response status here, so blocking is left to page-level detection.
func (s *rodSession) Navigate(ctx context.Context, url string) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page := s.page.Context(ctx)
	if s.timeout > 0 {
		page = page.Timeout(s.timeout)
	}

	if err := page.Navigate(url); err != nil {
		return nil, s.navigationError(ctx, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, s.navigationError(ctx, err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, s.navigationError(ctx, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", scraper.ErrTransport, url, err)
	}
	return doc, nil
}

func (s *rodSession) navigationError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %w", scraper.ErrTransport, err)
}

func (s *rodSession) Identity() scraper.Identity {
	return s.identity
}

func (s *rodSession) Close() error {
	_ = s.page.Close()
	return s.incognito.Close()
}
