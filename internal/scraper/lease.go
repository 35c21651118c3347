package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/PuerkitoBio/goquery"
)

// Lease owns one session at a time on behalf of a single worker. Rotation
// closes the current session before a fresh one with the next identity is
// acquired, so acquisitions and releases stay strictly paired.
type Lease struct {
	factory    SessionFactory
	identities IdentitySource
	session    Session
	rotations  int
	logger     *slog.Logger
}

// NewLease acquires the first session.
func NewLease(ctx context.Context, factory SessionFactory, identities IdentitySource, logger *slog.Logger) (*Lease, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Lease{
		factory:    factory,
		identities: identities,
		logger:     logger.With("component", "lease"),
	}
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Lease) acquire(ctx context.Context) error {
	identity := l.identities.Next()
	session, err := l.factory.NewSession(ctx, identity)
	if err != nil {
		return fmt.Errorf("failed to acquire session: %w", err)
	}
	l.session = session
	return nil
}

// Navigate loads url in the current session, acquiring one first if an
// earlier rotation left the lease empty.
func (l *Lease) Navigate(ctx context.Context, url string) (*goquery.Document, error) {
	if l.session == nil {
		if err := l.acquire(ctx); err != nil {
			return nil, err
		}
	}
	return l.session.Navigate(ctx, url)
}

// Rotate discards the current session and acquires a new one presenting a
// different identity.
func (l *Lease) Rotate(ctx context.Context) error {
	if l.session != nil {
		if err := l.session.Close(); err != nil {
			l.logger.Warn("failed to close blocked session", "error", err)
		}
		l.session = nil
	}
	l.rotations++
	if err := l.acquire(ctx); err != nil {
		return err
	}
	l.logger.Info("session rotated", "rotations", l.rotations, "user_agent", l.session.Identity().UserAgent)
	return nil
}

func (l *Lease) Rotations() int {
	return l.rotations
}

// Close releases the current session. It is safe to call more than once.
func (l *Lease) Close() error {
	if l.session == nil {
		return nil
	}
	err := l.session.Close()
	l.session = nil
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// Visitor loads pages with pacing and bounded recovery from blocking.
type Visitor struct {
	Block             BlockSpec
	MaxBlockedRetries int
	Limiter           Limiter
	Logger            *slog.Logger
}

// Visit navigates the leased session to url. A blocked response rotates the
// session and retries the same URL, at most MaxBlockedRetries times.
func (v *Visitor) Visit(ctx context.Context, lease *Lease, url string) (*goquery.Document, error) {
	return v.load(ctx, url, lease.Navigate, lease.Rotate)
}

// Fetch is Visit for stateless transports; each retry is a new request and
// picks up a new identity from the fetcher itself.
func (v *Visitor) Fetch(ctx context.Context, fetcher Fetcher, url string) (*goquery.Document, error) {
	return v.load(ctx, url, fetcher.Fetch, nil)
}

func (v *Visitor) load(
	ctx context.Context,
	url string,
	get func(context.Context, string) (*goquery.Document, error),
	rotate func(context.Context) error,
) (*goquery.Document, error) {
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for attempt := 0; ; attempt++ {
		if v.Limiter != nil {
			if err := v.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		doc, err := get(ctx, url)
		if err == nil && !v.Block.Detect(doc) {
			v.record(true)
			return doc, nil
		}
		if err != nil && !errors.Is(err, ErrBlocked) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to load %s: %w", url, err)
		}

		v.record(false)
		if attempt >= v.MaxBlockedRetries {
			return nil, fmt.Errorf("%w: %s after %d retries", ErrBlocked, url, attempt)
		}

		logger.Warn("blocked, retrying with a new identity", "url", url, "attempt", attempt+1)
		if rotate != nil {
			if err := rotate(ctx); err != nil {
				return nil, fmt.Errorf("failed to rotate session: %w", err)
			}
		}
	}
}

func (v *Visitor) record(success bool) {
	fb, ok := v.Limiter.(feedbackLimiter)
	if !ok {
		return
	}
	if success {
		fb.RecordSuccess()
	} else {
		fb.RecordError()
	}
}
