package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/media-scraper/internal/scraper"
)

// PageStore keeps scraped pages in memory. It honors the same contract as the
// Postgres store: one row per URL and whole-page asset replacement.
type PageStore struct {
	mu          sync.RWMutex
	pages       map[int64]scraper.Page
	byURL       map[string]int64
	nextPageID  int64
	nextAssetID int64
}

var _ scraper.PageStore = (*PageStore)(nil)

const (
	recentPagesLimit  = 5
	recentAssetsLimit = 5
)

// NewPageStore constructs an empty PageStore.
func NewPageStore() *PageStore {
	return &PageStore{
		pages: make(map[int64]scraper.Page),
		byURL: make(map[string]int64),
	}
}

// SavePage upserts the page for page.URL and replaces all of its assets.
func (s *PageStore) SavePage(_ context.Context, page scraper.PageWrite, assets []scraper.AssetWrite) (int64, error) {
	if page.URL == "" {
		return 0, fmt.Errorf("save page: url is required")
	}
	createdAt := page.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byURL[page.URL]
	if !ok {
		s.nextPageID++
		id = s.nextPageID
		s.byURL[page.URL] = id
	}
	stored := scraper.Page{
		ID:           id,
		URL:          page.URL,
		Title:        page.Title,
		Description:  page.Description,
		Success:      page.Success,
		ErrorMessage: page.ErrorMessage,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
		Assets:       make([]scraper.Asset, 0, len(assets)),
	}
	for _, a := range assets {
		s.nextAssetID++
		stored.Assets = append(stored.Assets, scraper.Asset{
			ID:        s.nextAssetID,
			PageID:    id,
			PageURL:   page.URL,
			URL:       a.URL,
			Type:      a.Type,
			AltText:   a.AltText,
			Title:     a.Title,
			MediaType: a.MediaType,
			Poster:    a.Poster,
			CreatedAt: createdAt,
		})
	}
	s.pages[id] = stored
	return id, nil
}

// FindPageByURL returns the page stored for url or scraper.ErrNotFound.
func (s *PageStore) FindPageByURL(_ context.Context, url string) (scraper.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[url]
	if !ok {
		return scraper.Page{}, fmt.Errorf("find page by url: %w", scraper.ErrNotFound)
	}
	return clonePage(s.pages[id]), nil
}

// GetPage returns a page by id.
func (s *PageStore) GetPage(_ context.Context, id int64) (scraper.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[id]
	if !ok {
		return scraper.Page{}, fmt.Errorf("get page: %w", scraper.ErrNotFound)
	}
	return clonePage(page), nil
}

// DeletePage removes a page and its assets.
func (s *PageStore) DeletePage(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[id]
	if !ok {
		return false, nil
	}
	delete(s.pages, id)
	delete(s.byURL, page.URL)
	return true, nil
}

// ListPages filters, sorts, and paginates pages.
func (s *PageStore) ListPages(_ context.Context, q scraper.PageQuery) ([]scraper.Page, int, error) {
	q = q.Normalize()
	s.mu.RLock()
	matched := make([]scraper.Page, 0, len(s.pages))
	for _, p := range s.pages {
		if q.Success != nil && p.Success != *q.Success {
			continue
		}
		if q.Search != "" && !containsFold(p.URL, q.Search) && !containsFold(p.Title, q.Search) {
			continue
		}
		matched = append(matched, clonePage(p))
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		less := comparePages(matched[i], matched[j], q.SortBy)
		if q.SortOrder == "ASC" {
			return less < 0
		}
		return less > 0
	})
	return paginate(matched, q.Offset(), q.Limit), len(matched), nil
}

// PageStats returns page totals and the most recently scraped pages.
func (s *PageStore) PageStats(ctx context.Context) (scraper.PageStats, error) {
	recent, total, err := s.ListPages(ctx, scraper.PageQuery{Limit: recentPagesLimit})
	if err != nil {
		return scraper.PageStats{}, err
	}
	stats := scraper.PageStats{TotalPages: total, RecentPages: recent}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pages {
		if p.Success {
			stats.SuccessfulPages++
		} else {
			stats.FailedPages++
		}
	}
	return stats, nil
}

// ListAssets filters, sorts, and paginates assets across all pages.
func (s *PageStore) ListAssets(_ context.Context, q scraper.AssetQuery) ([]scraper.Asset, int, error) {
	q = q.Normalize()
	matched := s.filterAssets(func(a scraper.Asset) bool {
		if q.Type != "" && a.Type != q.Type {
			return false
		}
		return q.Search == "" ||
			containsFold(a.URL, q.Search) ||
			containsFold(a.AltText, q.Search) ||
			containsFold(a.PageURL, q.Search)
	})
	sort.SliceStable(matched, func(i, j int) bool {
		less := compareAssets(matched[i], matched[j], q.SortBy)
		if q.SortOrder == "ASC" {
			return less < 0
		}
		return less > 0
	})
	return paginate(matched, q.Offset(), q.Limit), len(matched), nil
}

// GetAsset returns one asset by id.
func (s *PageStore) GetAsset(_ context.Context, id int64) (scraper.Asset, error) {
	found := s.filterAssets(func(a scraper.Asset) bool { return a.ID == id })
	if len(found) == 0 {
		return scraper.Asset{}, fmt.Errorf("get asset: %w", scraper.ErrNotFound)
	}
	return found[0], nil
}

// AssetStats returns asset totals by type and the most recent assets.
func (s *PageStore) AssetStats(ctx context.Context) (scraper.AssetStats, error) {
	recent, _, err := s.ListAssets(ctx, scraper.AssetQuery{Limit: recentAssetsLimit})
	if err != nil {
		return scraper.AssetStats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := scraper.AssetStats{RecentAssets: recent, TotalPages: len(s.pages)}
	for _, p := range s.pages {
		for _, a := range p.Assets {
			stats.TotalAssets++
			switch a.Type {
			case scraper.AssetTypeImage:
				stats.TotalImages++
			case scraper.AssetTypeVideo:
				stats.TotalVideos++
			}
		}
	}
	return stats, nil
}

func (s *PageStore) filterAssets(keep func(scraper.Asset) bool) []scraper.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.Asset, 0)
	for _, p := range s.pages {
		for _, a := range p.Assets {
			if keep(a) {
				out = append(out, a)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func clonePage(p scraper.Page) scraper.Page {
	cp := p
	cp.Assets = append(make([]scraper.Asset, 0, len(p.Assets)), p.Assets...)
	return cp
}

func comparePages(a, b scraper.Page, field string) int {
	switch field {
	case "url":
		return strings.Compare(a.URL, b.URL)
	case "title":
		return strings.Compare(a.Title, b.Title)
	case "success":
		return compareBool(a.Success, b.Success)
	case "updated_at":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	default:
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareInt(a.ID, b.ID)
	}
}

func compareAssets(a, b scraper.Asset, field string) int {
	switch field {
	case "asset_url":
		return strings.Compare(a.URL, b.URL)
	case "asset_type":
		return strings.Compare(string(a.Type), string(b.Type))
	default:
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareInt(a.ID, b.ID)
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return make([]T, 0)
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
