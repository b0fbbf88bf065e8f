package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/media-scraper/internal/extract"
	"github.com/JakeFAU/media-scraper/internal/hash/sha256"
	"github.com/JakeFAU/media-scraper/internal/scraper"
	"github.com/JakeFAU/media-scraper/internal/storage/memory"
)

const galleryHTML = `<html><head><title>Gallery</title></head><body>
<img src="/a.png" alt="A" title="first">
<video src="/v.mp4" poster="/p.jpg"></video>
<video><source src="/s.webm" type="video/webm"></video>
</body></html>`

func TestScrapeOneFreshThenCached(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pages["https://a.test/"] = galleryHTML

	first, err := env.orch.ScrapeOne(context.Background(), "https://a.test/")
	require.NoError(t, err)
	require.True(t, first.Success)
	require.False(t, first.Cached)
	require.Len(t, first.Data.Images, 1)
	require.Len(t, first.Data.Videos, 2)

	second, err := env.orch.ScrapeOne(context.Background(), "https://a.test/")
	require.NoError(t, err)
	require.True(t, second.Success)
	require.True(t, second.Cached)
	require.Equal(t, 1, env.fetcher.callsFor("https://a.test/"))
	require.Equal(t, first.Data, second.Data)

	page, err := env.store.FindPageByURL(context.Background(), "https://a.test/")
	require.NoError(t, err)
	require.Equal(t, "Gallery", page.Title)
	require.Equal(t, "Video poster: https://a.test/p.jpg", page.Assets[1].AltText)
}

func TestScrapeOneExpiredEntryIsMiss(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pages["https://a.test/"] = galleryHTML

	_, err := env.orch.ScrapeOne(context.Background(), "https://a.test/")
	require.NoError(t, err)

	env.clock.advance(DefaultCacheValidity)
	res, err := env.orch.ScrapeOne(context.Background(), "https://a.test/")
	require.NoError(t, err)
	require.False(t, res.Cached)
	require.Equal(t, 2, env.fetcher.callsFor("https://a.test/"))
}

func TestScrapeOneRefreshOverwritesAssets(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pages["https://a.test/"] = galleryHTML
	_, err := env.orch.ScrapeOne(context.Background(), "https://a.test/")
	require.NoError(t, err)

	env.clock.advance(DefaultCacheValidity + time.Hour)
	env.fetcher.pages["https://a.test/"] = `<img src="/only.png">`
	_, err = env.orch.ScrapeOne(context.Background(), "https://a.test/")
	require.NoError(t, err)

	page, err := env.store.FindPageByURL(context.Background(), "https://a.test/")
	require.NoError(t, err)
	require.Len(t, page.Assets, 1)
	require.Equal(t, "https://a.test/only.png", page.Assets[0].URL)
	require.Equal(t, env.clock.Now(), page.CreatedAt)
}

func TestScrapeOneFailedEntryNeverCached(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	res, err := env.orch.ScrapeOne(context.Background(), "https://dead.test/")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.NotEmpty(t, res.Error)
	require.Nil(t, res.Data)

	page, err := env.store.FindPageByURL(context.Background(), "https://dead.test/")
	require.NoError(t, err)
	require.False(t, page.Success)
	require.Equal(t, res.Error, page.ErrorMessage)

	res, err = env.orch.ScrapeOne(context.Background(), "https://dead.test/")
	require.NoError(t, err)
	require.False(t, res.Cached)
	require.Equal(t, 2, env.fetcher.callsFor("https://dead.test/"))
}

func TestScrapeBatchPreservesOrderAndLength(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pages["https://a.test/"] = galleryHTML
	env.fetcher.pages["https://b.test/"] = `<img src="b.png">`

	urls := []string{"https://b.test/", "https://dead.test/", "https://a.test/", "https://a.test/"}
	results, err := env.orch.ScrapeBatch(context.Background(), urls)
	require.NoError(t, err)
	require.Len(t, results, len(urls))
	for i, r := range results {
		require.Equal(t, urls[i], r.URL)
	}
	require.False(t, results[1].Success)
	require.True(t, results[2].Success)
	require.True(t, results[3].Success)
	require.True(t, results[3].Cached)
	require.Equal(t, results[2].Data, results[3].Data)
}

func TestScrapeBatchStopsOnPersistenceFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pages["https://a.test/"] = galleryHTML
	writer := &failingWriter{err: errors.New("connection refused")}
	orch := New(Config{}, env.store, writer, env.fetcher, extract.New(), env.clock, zap.NewNop())

	results, err := orch.ScrapeBatch(context.Background(), []string{"https://a.test/", "https://b.test/"})
	require.Error(t, err)
	require.True(t, scraper.IsPipeline(err))
	require.Empty(t, results)
	require.Zero(t, env.fetcher.callsFor("https://b.test/"))

	inline := orch.ScrapeAll(context.Background(), []string{"https://a.test/", "https://b.test/"})
	require.Len(t, inline, 2)
	require.False(t, inline[0].Success)
	require.Contains(t, inline[0].Error, "connection refused")
}

func TestScrapeAllKeepsFetchCauseWhenRecordingFails(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	writer := &failingWriter{err: errors.New("connection refused")}
	orch := New(Config{}, env.store, writer, env.fetcher, extract.New(), env.clock, zap.NewNop())

	results := orch.ScrapeAll(context.Background(), []string{"https://dead.test/"})
	require.Len(t, results, 1)
	require.False(t, results[0].Success)
	require.Contains(t, results[0].Error, "status 404")
	require.Contains(t, results[0].Error, "connection refused")

	_, err := orch.ScrapeOne(context.Background(), "https://dead.test/")
	require.True(t, scraper.IsPipeline(err))
	require.ErrorContains(t, err, "Not Found")
}

func TestScrapeOneReadFailureIsMiss(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pages["https://a.test/"] = galleryHTML
	orch := New(Config{}, brokenReader{}, env.store, env.fetcher, extract.New(), env.clock, zap.NewNop())

	res, err := orch.ScrapeOne(context.Background(), "https://a.test/")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.False(t, res.Cached)
}

func TestScrapeOneArchivesBody(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pages["https://a.test/"] = galleryHTML
	blobs := memory.NewBlobStore()
	hasher := sha256.New()
	orch := New(Config{ArchivePrefix: "pages"}, env.store, env.store, env.fetcher, extract.New(), env.clock,
		zap.NewNop(), WithArchive(blobs, hasher))

	_, err := orch.ScrapeOne(context.Background(), "https://a.test/")
	require.NoError(t, err)

	digest, err := hasher.Hash([]byte(galleryHTML))
	require.NoError(t, err)
	body, ok := blobs.Object("pages/" + digest + ".html")
	require.True(t, ok)
	require.Equal(t, galleryHTML, string(body))
}

type testEnv struct {
	store   *memory.PageStore
	fetcher *fakeFetcher
	clock   *fakeClock
	orch    *Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewPageStore()
	fetcher := &fakeFetcher{pages: map[string]string{}, calls: map[string]int{}}
	clk := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	return &testEnv{
		store:   store,
		fetcher: fetcher,
		clock:   clk,
		orch:    New(Config{}, store, store, fetcher, extract.New(), clk, zap.NewNop()),
	}
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls map[string]int
}

func (f *fakeFetcher) Fetch(_ context.Context, req scraper.FetchRequest) (scraper.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URL]++
	body, ok := f.pages[req.URL]
	if !ok {
		return scraper.FetchResponse{}, &scraper.FetchError{
			URL:        req.URL,
			StatusCode: http.StatusNotFound,
			Err:        errors.New("Not Found"),
		}
	}
	return scraper.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func (f *fakeFetcher) callsFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingWriter struct {
	err error
}

func (w *failingWriter) SavePage(context.Context, scraper.PageWrite, []scraper.AssetWrite) (int64, error) {
	return 0, w.err
}

type brokenReader struct{}

func (brokenReader) FindPageByURL(context.Context, string) (scraper.Page, error) {
	return scraper.Page{}, errors.New("relation does not exist")
}
