package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/scraper"
	"github.com/maltedev/marketplace-scraper/internal/service"
)

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

// Scraper runs synchronous scrapes.
type Scraper interface {
	Scrape(ctx context.Context, marketplace string, query models.SearchQuery) ([]models.Outcome, error)
	Marketplaces() []string
}

type JobManager interface {
	CreateJob(ctx context.Context, marketplace string, query models.SearchQuery, priority int) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*models.Job, error)
	Stats(ctx context.Context) (*models.JobStats, error)
}

// OutboxMonitor reports the backlog of the result relay.
type OutboxMonitor interface {
	GetPendingCount(ctx context.Context) (int64, error)
	GetDeadLetterCount(ctx context.Context) (int64, error)
}

type Handlers struct {
	scraper Scraper
	jobs    JobManager
	outbox  OutboxMonitor
	logger  *slog.Logger
}

// NewHandlers wires the HTTP surface. jobs and outbox may be nil when the
// server runs without them.
func NewHandlers(scraper Scraper, jobs JobManager, outbox OutboxMonitor, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		scraper: scraper,
		jobs:    jobs,
		outbox:  outbox,
		logger:  logger.With("component", "api"),
	}
}

// ScrapeRequest is the trigger body shared by every marketplace.
type ScrapeRequest struct {
	Keyword          string `json:"keyword"`
	NumberOfProducts int    `json:"number_of_products"`
	NumberOfReviews  int    `json:"number_of_reviews"`
}

func (r ScrapeRequest) query() models.SearchQuery {
	return models.SearchQuery{
		Keyword:      r.Keyword,
		ProductCount: r.NumberOfProducts,
		ReviewCount:  r.NumberOfReviews,
	}
}

// Scrape runs the marketplace named in the path and answers with its outcomes.
func (h *Handlers) Scrape(w http.ResponseWriter, r *http.Request) {
	h.scrape(w, r, chi.URLParam(r, "marketplace"))
}

// ScrapeMarketplace serves the fixed per-marketplace routes.
func (h *Handlers) ScrapeMarketplace(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.scrape(w, r, name)
	}
}

func (h *Handlers) scrape(w http.ResponseWriter, r *http.Request, marketplace string) {
	var req ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcomes, err := h.scraper.Scrape(r.Context(), marketplace, req.query())
	if err != nil && len(outcomes) > 0 && isContextErr(err) {
		// the run was cut short after some products were scraped; those still count
		h.logger.Warn("scrape interrupted, returning partial outcomes",
			"marketplace", marketplace, "keyword", req.Keyword, "outcomes", len(outcomes), "error", err)
		w.Header().Set(PartialHeader, err.Error())
		h.respondJSON(w, http.StatusOK, outcomes)
		return
	}
	if err != nil {
		status := scrapeStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("scrape failed", "marketplace", marketplace, "keyword", req.Keyword, "error", err)
		}
		h.respondError(w, status, err.Error())
		return
	}

	if outcomes == nil {
		outcomes = []models.Outcome{}
	}
	h.respondJSON(w, http.StatusOK, outcomes)
}

// PartialHeader is set on a 200 scrape response whose run was interrupted. It
// carries the interruption error.
const PartialHeader = "X-Scrape-Partial"

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func scrapeStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, scraper.ErrUnknownMarketplace):
		return http.StatusNotFound
	case errors.Is(err, scraper.ErrDiscovery), errors.Is(err, scraper.ErrBlocked):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) ListMarketplaces(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string][]string{"marketplaces": h.scraper.Marketplaces()})
}

type CreateJobRequest struct {
	Marketplace string `json:"marketplace"`
	ScrapeRequest
	Priority int `json:"priority"`
}

type CreateJobResponse struct {
	JobID   string           `json:"job_id"`
	Status  models.JobStatus `json:"status"`
	Message string           `json:"message"`
}

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Marketplace == "" {
		h.respondError(w, http.StatusBadRequest, "marketplace is required")
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), req.Marketplace, req.query(), req.Priority)
	if err != nil {
		status := scrapeStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to create job", "error", err)
			h.respondError(w, status, "failed to create job")
			return
		}
		h.respondError(w, status, err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, CreateJobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Job created successfully",
	})
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, models.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get job", "id", jobID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// ListJobs honours an optional ?limit= parameter.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs, err := h.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	h.respondJSON(w, http.StatusOK, jobs)
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":       "ok",
		"marketplaces": h.scraper.Marketplaces(),
	}
	status := http.StatusOK

	if h.outbox != nil {
		pending, err := h.outbox.GetPendingCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to count pending events", "error", err)
		}
		deadLetter, err := h.outbox.GetDeadLetterCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to count dead letter events", "error", err)
		}
		health["outbox"] = map[string]int64{
			"pending":     pending,
			"dead_letter": deadLetter,
		}

		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetter > deadLetterFailThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
