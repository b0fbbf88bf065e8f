// Package orchestrator runs the per-URL scrape pipeline: cache lookup, fetch,
// extraction, and persistence of the outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/media-scraper/internal/metrics"
	"github.com/JakeFAU/media-scraper/internal/scraper"
)

// DefaultCacheValidity is how long a successful scrape is served from cache.
const DefaultCacheValidity = 7 * 24 * time.Hour

const videoPosterPrefix = "Video poster: "

// Config tunes the orchestrator.
type Config struct {
	CacheValidity time.Duration
	ArchivePrefix string
}

// Orchestrator scrapes URLs through the cache.
type Orchestrator struct {
	cfg       Config
	reader    scraper.CacheReader
	writer    scraper.CacheWriter
	fetcher   scraper.Fetcher
	extractor scraper.Extractor
	clock     scraper.Clock
	logger    *zap.Logger

	archive scraper.BlobStore
	hasher  scraper.Hasher
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithArchive stores every fetched body in blobs under a content hash.
func WithArchive(blobs scraper.BlobStore, hasher scraper.Hasher) Option {
	return func(o *Orchestrator) {
		o.archive = blobs
		o.hasher = hasher
	}
}

var _ scraper.BatchScraper = (*Orchestrator)(nil)

// New wires an Orchestrator.
func New(
	cfg Config,
	reader scraper.CacheReader,
	writer scraper.CacheWriter,
	fetcher scraper.Fetcher,
	extractor scraper.Extractor,
	clock scraper.Clock,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if cfg.CacheValidity <= 0 {
		cfg.CacheValidity = DefaultCacheValidity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:       cfg,
		reader:    reader,
		writer:    writer,
		fetcher:   fetcher,
		extractor: extractor,
		clock:     clock,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ScrapeBatch scrapes urls sequentially and returns one result per input in
// input order. It stops at the first *scraper.PipelineError so the caller can
// retry the whole batch; per-URL fetch and extraction failures never stop it.
func (o *Orchestrator) ScrapeBatch(ctx context.Context, urls []string) ([]scraper.ScrapeResult, error) {
	results := make([]scraper.ScrapeResult, 0, len(urls))
	for _, u := range urls {
		res, err := o.ScrapeOne(ctx, u)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ScrapeAll scrapes every URL and reports persistence failures inline as
// failed results.
func (o *Orchestrator) ScrapeAll(ctx context.Context, urls []string) []scraper.ScrapeResult {
	results := make([]scraper.ScrapeResult, 0, len(urls))
	for _, u := range urls {
		res, err := o.ScrapeOne(ctx, u)
		if err != nil {
			o.logger.Warn("persist scrape result", zap.String("url", u), zap.Error(err))
		}
		results = append(results, res)
	}
	return results
}

// ScrapeOne returns a cached result when a fresh successful entry exists and
// otherwise fetches, extracts, and persists. The returned error is non-nil
// only for persistence faults; the result then carries the failure too.
func (o *Orchestrator) ScrapeOne(ctx context.Context, url string) (scraper.ScrapeResult, error) {
	now := o.clock.Now()
	if res, ok := o.fromCache(ctx, url, now); ok {
		metrics.ObserveScrape(url, metrics.OutcomeCached)
		return res, nil
	}

	resp, err := o.fetcher.Fetch(ctx, scraper.FetchRequest{URL: url})
	if err != nil {
		return o.recordFailure(ctx, url, now, err)
	}
	metrics.ObserveFetch(url, resp.Duration)
	o.archiveBody(ctx, url, resp.Body)

	base := resp.URL
	if base == "" {
		base = url
	}
	data, meta, err := o.extractor.Analyze(resp.Body, base)
	if err != nil {
		return o.recordFailure(ctx, url, now, err)
	}

	_, err = o.writer.SavePage(ctx, scraper.PageWrite{
		URL:         url,
		Title:       meta.Title,
		Description: meta.Description,
		Success:     true,
		CreatedAt:   now,
	}, assetWrites(data))
	if err != nil {
		return o.persistenceFailure(url, nil, err)
	}
	metrics.ObserveScrape(url, metrics.OutcomeFresh)
	o.logger.Debug("scraped url",
		zap.String("url", url),
		zap.Int("images", len(data.Images)),
		zap.Int("videos", len(data.Videos)),
	)
	return scraper.ScrapeResult{URL: url, Success: true, Data: &data}, nil
}

func (o *Orchestrator) fromCache(ctx context.Context, url string, now time.Time) (scraper.ScrapeResult, bool) {
	page, err := o.reader.FindPageByURL(ctx, url)
	if err != nil {
		if !errors.Is(err, scraper.ErrNotFound) {
			metrics.ObservePersistenceFailure("read")
			o.logger.Warn("cache lookup failed, treating as miss", zap.String("url", url), zap.Error(err))
		}
		return scraper.ScrapeResult{}, false
	}
	if !page.Success || now.Sub(page.CreatedAt) >= o.cfg.CacheValidity {
		return scraper.ScrapeResult{}, false
	}
	data := dataFromAssets(page.Assets)
	return scraper.ScrapeResult{URL: url, Success: true, Data: &data, Cached: true}, true
}

func (o *Orchestrator) recordFailure(ctx context.Context, url string, now time.Time, cause error) (scraper.ScrapeResult, error) {
	metrics.ObserveScrape(url, metrics.OutcomeFailed)
	o.logger.Info("scrape failed", zap.String("url", url), zap.Error(cause))

	_, err := o.writer.SavePage(ctx, scraper.PageWrite{
		URL:          url,
		Success:      false,
		ErrorMessage: cause.Error(),
		CreatedAt:    now,
	}, nil)
	if err != nil {
		return o.persistenceFailure(url, cause, err)
	}
	return scraper.ScrapeResult{URL: url, Success: false, Error: cause.Error()}, nil
}

// persistenceFailure reports a failed write. cause is the scrape failure that
// was being recorded, if any, and stays visible in the result.
func (o *Orchestrator) persistenceFailure(url string, cause, err error) (scraper.ScrapeResult, error) {
	metrics.ObservePersistenceFailure("write")
	wrapped := fmt.Errorf("%s: %w", url, err)
	if cause != nil {
		wrapped = fmt.Errorf("%s: %v; %w", url, cause, err)
	}
	perr := &scraper.PipelineError{Op: "save page", Err: wrapped}
	return scraper.ScrapeResult{URL: url, Success: false, Error: perr.Error()}, perr
}

func (o *Orchestrator) archiveBody(ctx context.Context, url string, body []byte) {
	if o.archive == nil || o.hasher == nil {
		return
	}
	digest, err := o.hasher.Hash(body)
	if err != nil {
		o.logger.Warn("hash page body", zap.String("url", url), zap.Error(err))
		return
	}
	uri, err := o.archive.PutObject(ctx, path.Join(o.cfg.ArchivePrefix, digest+".html"), "text/html", body)
	if err != nil {
		o.logger.Warn("archive page body", zap.String("url", url), zap.Error(err))
		return
	}
	o.logger.Debug("archived page body", zap.String("url", url), zap.String("uri", uri))
}

func assetWrites(data scraper.ScrapedData) []scraper.AssetWrite {
	out := make([]scraper.AssetWrite, 0, len(data.Images)+len(data.Videos))
	for _, img := range data.Images {
		out = append(out, scraper.AssetWrite{
			URL:     img.URL,
			Type:    scraper.AssetTypeImage,
			AltText: img.Alt,
			Title:   img.Title,
		})
	}
	for _, v := range data.Videos {
		w := scraper.AssetWrite{
			URL:       v.URL,
			Type:      scraper.AssetTypeVideo,
			MediaType: v.Type,
		}
		if v.Poster != nil {
			w.Poster = *v.Poster
			w.AltText = videoPosterPrefix + *v.Poster
		}
		out = append(out, w)
	}
	return out
}

func dataFromAssets(assets []scraper.Asset) scraper.ScrapedData {
	data := scraper.ScrapedData{
		Images: make([]scraper.ImageData, 0),
		Videos: make([]scraper.VideoData, 0),
	}
	for _, a := range assets {
		switch a.Type {
		case scraper.AssetTypeImage:
			data.Images = append(data.Images, scraper.ImageData{URL: a.URL, Alt: a.AltText, Title: a.Title})
		case scraper.AssetTypeVideo:
			v := scraper.VideoData{URL: a.URL, Type: a.MediaType}
			if v.Type == "" {
				v.Type = scraper.DefaultVideoType
			}
			if a.Poster != "" {
				poster := a.Poster
				v.Poster = &poster
			}
			data.Videos = append(data.Videos, v)
		}
	}
	return data
}
