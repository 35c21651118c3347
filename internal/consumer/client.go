package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/maltedev/marketplace-scraper/internal/api"
	"github.com/maltedev/marketplace-scraper/internal/models"
)

// JobsClient submits jobs to the scraper's HTTP API.
type JobsClient struct {
	baseURL  string
	client   *http.Client
	attempts int
	backoff  time.Duration
	priority int
}

func NewJobsClient(baseURL string, client *http.Client) *JobsClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &JobsClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		attempts: 3,
		backoff:  time.Second,
		// resubmissions queue behind fresh requests
		priority: -1,
	}
}

func (c *JobsClient) Submit(ctx context.Context, marketplace string, query models.SearchQuery) (string, error) {
	body, err := json.Marshal(api.CreateJobRequest{
		Marketplace: marketplace,
		ScrapeRequest: api.ScrapeRequest{
			Keyword:          query.Keyword,
			NumberOfProducts: query.ProductCount,
			NumberOfReviews:  query.ReviewCount,
		},
		Priority: c.priority,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal job request: %w", err)
	}

	var lastErr error
	for attempt := range c.attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}

		jobID, retry, err := c.post(ctx, body)
		if err == nil {
			return jobID, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return "", lastErr
}

// post sends one request. retry reports whether the failure may be temporary.
func (c *JobsClient) post(ctx context.Context, body []byte) (jobID string, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", ctx.Err() == nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return "", resp.StatusCode >= http.StatusInternalServerError,
			fmt.Errorf("API returned status %d: %s", resp.StatusCode, apiErr.Error)
	}

	var created api.CreateJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", false, fmt.Errorf("failed to decode response: %w", err)
	}
	return created.JobID, false, nil
}
