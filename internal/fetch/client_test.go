package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/marketplace-scraper/internal/scraper"
)

type agents struct {
	mu sync.Mutex
	n  int
}

func (a *agents) Next() scraper.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n++
	return scraper.Identity{UserAgent: fmt.Sprintf("agent-%d", a.n), Locale: "en-GB"}
}

func TestClientFetch(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("User-Agent"))
		assert.Equal(t, "en-GB", r.Header.Get("Accept-Language"))
		fmt.Fprint(w, `<html><head><title>Item</title></head><body><h1>Mouse</h1></body></html>`)
	}))
	defer srv.Close()

	c := NewClient(WithIdentities(&agents{}))

	doc, err := c.Fetch(context.Background(), srv.URL+"/itm/1")
	require.NoError(t, err)
	assert.Equal(t, "Mouse", doc.Find("h1").Text())
	assert.Equal(t, "/itm/1", doc.Url.Path)

	_, err = c.Fetch(context.Background(), srv.URL+"/itm/2")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-1", "agent-2"}, seen)
}

func TestClientFetchStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"forbidden", http.StatusForbidden, scraper.ErrBlocked},
		{"too many requests", http.StatusTooManyRequests, scraper.ErrBlocked},
		{"unavailable", http.StatusServiceUnavailable, scraper.ErrBlocked},
		{"not found", http.StatusNotFound, scraper.ErrTransport},
		{"server error", http.StatusInternalServerError, scraper.ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewClient().Fetch(context.Background(), srv.URL)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestClientFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient().Fetch(context.Background(), url)
	require.Error(t, err)
	assert.True(t, errors.Is(err, scraper.ErrTransport))
}

func TestClientFetchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient().Fetch(ctx, "http://127.0.0.1:1/")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientCustomHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.Header.Get("DNT"))
		fmt.Fprint(w, `<p>ok</p>`)
	}))
	defer srv.Close()

	doc, err := NewClient(WithHeader("DNT", "1"), WithHTTPClient(srv.Client())).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", doc.Find("p").Text())
}
