package browser

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/maltedev/marketplace-scraper/internal/scraper"
)

const (
	DriverPlaywright = "playwright"
	DriverRod        = "rod"
)

// Factory is a session factory that owns a browser process.
type Factory interface {
	scraper.SessionFactory
	Close() error
}

// NewFactory launches the browser for the named driver.
func NewFactory(driver string, opts *Options, logger *slog.Logger) (Factory, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverPlaywright:
		return NewPlaywrightFactory(opts, logger)
	case DriverRod:
		return NewRodFactory(opts, logger)
	default:
		return nil, fmt.Errorf("unknown browser driver %q", driver)
	}
}
