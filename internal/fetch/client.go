// Package fetch loads marketplace pages over plain HTTP for marketplaces that
// serve complete markup without running scripts.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/marketplace-scraper/internal/scraper"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

var _ scraper.Fetcher = (*Client)(nil)

// Client is a stateless scraper.Fetcher. Every request presents the next
// identity of its source, so a retried request goes out as someone else.
// Client is safe for concurrent use.
type Client struct {
	client     *http.Client
	timeout    time.Duration
	identities scraper.IdentitySource
	headers    map[string]string
	logger     *slog.Logger
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the underlying client. Its Timeout is left alone.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

func WithIdentities(source scraper.IdentitySource) Option {
	return func(c *Client) {
		c.identities = source
	}
}

func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		timeout: DefaultTimeout,
		headers: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		c.client = &http.Client{Timeout: c.timeout}
	}
	c.logger = c.logger.With("component", "http_fetcher")

	return c
}

// Fetch loads url and parses the body. Statuses used for throttling map to
// scraper.ErrBlocked; other failures map to scraper.ErrTransport.
func (c *Client) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid request for %s: %w", scraper.ErrTransport, url, err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if c.identities != nil {
		identity := c.identities.Next()
		if identity.UserAgent != "" {
			req.Header.Set("User-Agent", identity.UserAgent)
		}
		if identity.Locale != "" {
			req.Header.Set("Accept-Language", identity.Locale)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", scraper.ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := scraper.StatusError(resp.StatusCode, url); err != nil {
		c.logger.Debug("unexpected status", "url", url, "status", resp.StatusCode)
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", scraper.ErrTransport, url, err)
	}
	doc.Url = resp.Request.URL

	return doc, nil
}
