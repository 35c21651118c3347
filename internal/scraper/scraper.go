package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrBlocked            = errors.New("blocked by anti-bot protection")
	ErrTransport          = errors.New("page could not be loaded")
	ErrStructuralMismatch = errors.New("page structure not recognised")
	ErrDiscovery          = errors.New("listing discovery failed")
	ErrUnknownMarketplace = errors.New("unknown marketplace")
)

// StatusError classifies an HTTP status returned for url. Statuses that
// marketplaces answer automated clients with map to ErrBlocked, anything else
// outside 2xx to ErrTransport.
func StatusError(status int, url string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusForbidden, status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: HTTP %d for %s", ErrBlocked, status, url)
	default:
		return fmt.Errorf("%w: HTTP %d for %s", ErrTransport, status, url)
	}
}

// Identity is the simulated browser a session presents to a marketplace.
type Identity struct {
	UserAgent      string
	Locale         string
	TimezoneID     string
	ViewportWidth  int
	ViewportHeight int
}

// IdentitySource hands out identities, a different one on every call when it
// can.
type IdentitySource interface {
	Next() Identity
}

// Fetcher loads documents without carrying state between requests.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
}

// Session is a stateful document accessor (cookies, fingerprint). A session
// is owned by exactly one goroutine at a time.
type Session interface {
	Navigate(ctx context.Context, url string) (*goquery.Document, error)
	Identity() Identity
	Close() error
}

type SessionFactory interface {
	NewSession(ctx context.Context, identity Identity) (Session, error)
}

// PageFetcher is the transport-agnostic shape handed to the discoverer.
type PageFetcher func(ctx context.Context, url string) (*goquery.Document, error)

// Limiter paces navigations.
type Limiter interface {
	Wait(ctx context.Context) error
}

// feedbackLimiter is implemented by limiters that adapt their pace to how
// the marketplace reacts.
type feedbackLimiter interface {
	RecordSuccess()
	RecordError()
}
