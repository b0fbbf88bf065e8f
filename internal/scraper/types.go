// Package scraper defines core types shared across subsystems.
package scraper

import "time"

// AssetType distinguishes the media kinds persisted per page.
type AssetType string

// Asset types stored alongside a cached page.
const (
	AssetTypeImage AssetType = "image"
	AssetTypeVideo AssetType = "video"
)

// DefaultVideoType is used when a video element carries no type attribute.
const DefaultVideoType = "video/mp4"

// ImageData describes one image found on a page.
type ImageData struct {
	URL   string `json:"url"`
	Alt   string `json:"alt"`
	Title string `json:"title"`
}

// VideoData describes one video (or video source) found on a page.
type VideoData struct {
	URL    string  `json:"url"`
	Poster *string `json:"poster"`
	Type   string  `json:"type"`
}

// ScrapedData is the structured media extracted from a page.
type ScrapedData struct {
	Images []ImageData `json:"images"`
	Videos []VideoData `json:"videos"`
}

// ScrapeResult is the per-URL outcome returned to callers.
type ScrapeResult struct {
	URL     string       `json:"url"`
	Success bool         `json:"success"`
	Data    *ScrapedData `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
	Cached  bool         `json:"cached"`
}

// CacheStats summarizes cache usage across a batch of results.
type CacheStats struct {
	TotalRequests  int     `json:"totalRequests"`
	CachedRequests int     `json:"cachedRequests"`
	FreshRequests  int     `json:"freshRequests"`
	CacheHitRate   float64 `json:"cacheHitRate"`
}

// SummarizeCache computes cache statistics for a result list. The hit rate is
// a percentage rounded to two decimals.
func SummarizeCache(results []ScrapeResult) CacheStats {
	stats := CacheStats{TotalRequests: len(results)}
	for _, r := range results {
		if r.Cached {
			stats.CachedRequests++
		} else {
			stats.FreshRequests++
		}
	}
	if stats.TotalRequests > 0 {
		rate := float64(stats.CachedRequests) / float64(stats.TotalRequests) * 100
		stats.CacheHitRate = float64(int64(rate*100+0.5)) / 100
	}
	return stats
}

// ScrapeJob is the status record tracked for one asynchronous batch.
type ScrapeJob struct {
	ID          string         `json:"jobId"`
	Status      JobStatus      `json:"status"`
	URLs        []string       `json:"urls"`
	Message     string         `json:"message,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Attempts    int            `json:"attempts"`
	Results     []ScrapeResult `json:"results,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j ScrapeJob) Clone() ScrapeJob {
	cp := j
	cp.URLs = append([]string(nil), j.URLs...)
	if j.Results != nil {
		cp.Results = append([]ScrapeResult(nil), j.Results...)
	}
	if j.StartedAt != nil {
		ts := *j.StartedAt
		cp.StartedAt = &ts
	}
	if j.CompletedAt != nil {
		ts := *j.CompletedAt
		cp.CompletedAt = &ts
	}
	return cp
}

// QueueStats reports queue depth per lifecycle bucket.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	URLs      []string
	Submitted int64
}

// Page is a persisted cache entry together with its assets.
type Page struct {
	ID           int64     `json:"id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Assets       []Asset   `json:"assets"`
}

// Asset is one persisted media reference belonging to a page.
type Asset struct {
	ID        int64     `json:"id"`
	PageID    int64     `json:"scraped_page_id"`
	PageURL   string    `json:"page_url,omitempty"`
	URL       string    `json:"asset_url"`
	Type      AssetType `json:"asset_type"`
	AltText   string    `json:"alt_text,omitempty"`
	Title     string    `json:"title,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
	Poster    string    `json:"poster,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PageWrite is the page row written after a scrape attempt.
type PageWrite struct {
	URL          string
	Title        string
	Description  string
	Success      bool
	ErrorMessage string
	CreatedAt    time.Time
}

// AssetWrite is one asset row written with its owning page.
type AssetWrite struct {
	URL       string
	Type      AssetType
	AltText   string
	Title     string
	MediaType string
	Poster    string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// PageMeta is the title/description pair pulled from a page.
type PageMeta struct {
	Title       string
	Description string
}

// PageQuery filters and paginates page listings.
type PageQuery struct {
	Page      int
	Limit     int
	Search    string
	Success   *bool
	SortBy    string
	SortOrder string
}

// AssetQuery filters and paginates asset listings.
type AssetQuery struct {
	Page      int
	Limit     int
	Type      AssetType
	Search    string
	SortBy    string
	SortOrder string
}

// PageStats aggregates page counts.
type PageStats struct {
	TotalPages      int    `json:"totalPages"`
	SuccessfulPages int    `json:"successfulPages"`
	FailedPages     int    `json:"failedPages"`
	RecentPages     []Page `json:"recentPages"`
}

// AssetStats aggregates asset counts.
type AssetStats struct {
	TotalAssets  int     `json:"totalAssets"`
	TotalImages  int     `json:"totalImages"`
	TotalVideos  int     `json:"totalVideos"`
	TotalPages   int     `json:"totalPages"`
	RecentAssets []Asset `json:"recentAssets"`
}

// Normalize fills defaults and clamps paging values.
func (q PageQuery) Normalize() PageQuery {
	q.Page, q.Limit = normalizePaging(q.Page, q.Limit)
	switch q.SortBy {
	case "url", "title", "created_at", "updated_at", "success":
	default:
		q.SortBy = "created_at"
	}
	q.SortOrder = normalizeOrder(q.SortOrder)
	return q
}

// Normalize fills defaults and clamps paging values.
func (q AssetQuery) Normalize() AssetQuery {
	q.Page, q.Limit = normalizePaging(q.Page, q.Limit)
	switch q.SortBy {
	case "asset_url", "asset_type", "created_at":
	default:
		q.SortBy = "created_at"
	}
	q.SortOrder = normalizeOrder(q.SortOrder)
	return q
}

// Offset returns the row offset for the requested page.
func (q PageQuery) Offset() int { return (q.Page - 1) * q.Limit }

// Offset returns the row offset for the requested page.
func (q AssetQuery) Offset() int { return (q.Page - 1) * q.Limit }

const maxPageLimit = 100

func normalizePaging(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

func normalizeOrder(order string) string {
	if order == "ASC" || order == "asc" {
		return "ASC"
	}
	return "DESC"
}
