package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/media-scraper/internal/scraper"
)

type scrapeRequest struct {
	URLs []string `json:"urls"`
}

type scrapeResponse struct {
	Success    bool                   `json:"success"`
	Results    []scraper.ScrapeResult `json:"results"`
	CacheStats scraper.CacheStats     `json:"cacheStats"`
}

type queuedJob struct {
	JobID     string            `json:"jobId"`
	Status    scraper.JobStatus `json:"status"`
	URLs      []string          `json:"urls"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"createdAt"`
}

// scrapeSync handles POST /scrape. Per-URL failures are reported inline, so
// any validated request answers 200.
func (s *Server) scrapeSync(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := scraper.ValidateURLs(req.URLs, s.cfg.Scrape.MaxURLs); err != nil {
		s.writeFailure(w, err, "invalid request")
		return
	}
	results := s.scrapes.ScrapeAll(r.Context(), req.URLs)
	writeJSON(w, http.StatusOK, scrapeResponse{
		Success:    true,
		Results:    results,
		CacheStats: scraper.SummarizeCache(results),
	})
}

// submitJob handles POST /scrape/v2 and answers 202 once the job is queued.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.jobs.Submit(r.Context(), req.URLs)
	if err != nil {
		s.writeFailure(w, err, "Failed to start scraping job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Scraping job queued successfully",
		"data": queuedJob{
			JobID:     job.ID,
			Status:    job.Status,
			URLs:      job.URLs,
			Message:   job.Message,
			CreatedAt: job.CreatedAt,
		},
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Job(chi.URLParam(r, "jobId"))
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": job})
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": s.jobs.Jobs()})
}

func (s *Server) queueStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": s.jobs.Stats()})
}

func (s *Server) cleanJobs(w http.ResponseWriter, _ *http.Request) {
	res := s.jobs.Sweep()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Old jobs cleaned successfully",
		"data":    res,
	})
}
