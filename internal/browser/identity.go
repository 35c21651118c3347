package browser

import (
	"sync"

	"github.com/maltedev/marketplace-scraper/internal/scraper"
)

var _ scraper.IdentitySource = (*Identities)(nil)

func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

type viewport struct {
	width, height int
}

var viewports = []viewport{
	{1920, 1080},
	{1536, 864},
	{1440, 900},
	{1366, 768},
}

// Identities hands out simulated identities round-robin. User agent and
// viewport advance together, locale and timezone stay fixed.
type Identities struct {
	mu         sync.Mutex
	userAgents []string
	locale     string
	timezoneID string
	next       int
}

func NewIdentities(userAgents []string, locale, timezoneID string) *Identities {
	agents := make([]string, 0, len(userAgents))
	for _, ua := range userAgents {
		if ua != "" {
			agents = append(agents, ua)
		}
	}
	if len(agents) == 0 {
		agents = DefaultUserAgents()
	}

	return &Identities{
		userAgents: agents,
		locale:     locale,
		timezoneID: timezoneID,
	}
}

func (i *Identities) Next() scraper.Identity {
	i.mu.Lock()
	n := i.next
	i.next++
	i.mu.Unlock()

	vp := viewports[n%len(viewports)]
	return scraper.Identity{
		UserAgent:      i.userAgents[n%len(i.userAgents)],
		Locale:         i.locale,
		TimezoneID:     i.timezoneID,
		ViewportWidth:  vp.width,
		ViewportHeight: vp.height,
	}
}
