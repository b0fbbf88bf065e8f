package scraper

import (
	"context"
	"time"
)

// CacheReader is the read path of the URL cache.
type CacheReader interface {
	FindPageByURL(ctx context.Context, url string) (Page, error)
}

// CacheWriter is the write path of the URL cache. SavePage replaces the page
// row and all of its assets as one unit.
type CacheWriter interface {
	SavePage(ctx context.Context, page PageWrite, assets []AssetWrite) (int64, error)
}

// PageStore is the full persistence collaborator, including browse queries.
type PageStore interface {
	CacheReader
	CacheWriter
	GetPage(ctx context.Context, id int64) (Page, error)
	DeletePage(ctx context.Context, id int64) (bool, error)
	ListPages(ctx context.Context, q PageQuery) ([]Page, int, error)
	PageStats(ctx context.Context) (PageStats, error)
	ListAssets(ctx context.Context, q AssetQuery) ([]Asset, int, error)
	GetAsset(ctx context.Context, id int64) (Asset, error)
	AssetStats(ctx context.Context) (AssetStats, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns page content into structured media plus page metadata
// from a single parse.
type Extractor interface {
	Analyze(content []byte, baseURL string) (ScrapedData, PageMeta, error)
}

// BatchScraper scrapes an ordered list of URLs.
type BatchScraper interface {
	ScrapeBatch(ctx context.Context, urls []string) ([]ScrapeResult, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for scrape jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Len() int
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
