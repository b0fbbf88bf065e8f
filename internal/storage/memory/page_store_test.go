package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/media-scraper/internal/scraper"
)

func TestPageStoreSaveReplacesRowAndAssets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewPageStore()
	first := time.Unix(1700000000, 0).UTC()

	id, err := store.SavePage(ctx, scraper.PageWrite{URL: "https://a.test", Success: true, CreatedAt: first},
		[]scraper.AssetWrite{
			{URL: "https://a.test/1.png", Type: scraper.AssetTypeImage},
			{URL: "https://a.test/2.png", Type: scraper.AssetTypeImage},
		})
	require.NoError(t, err)

	second := first.Add(time.Hour)
	again, err := store.SavePage(ctx, scraper.PageWrite{URL: "https://a.test", ErrorMessage: "boom", CreatedAt: second}, nil)
	require.NoError(t, err)
	require.Equal(t, id, again)

	page, err := store.FindPageByURL(ctx, "https://a.test")
	require.NoError(t, err)
	require.False(t, page.Success)
	require.Equal(t, "boom", page.ErrorMessage)
	require.Equal(t, second, page.CreatedAt)
	require.Empty(t, page.Assets)
}

func TestPageStoreFindMissing(t *testing.T) {
	t.Parallel()

	_, err := NewPageStore().FindPageByURL(context.Background(), "https://missing.test")
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestPageStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewPageStore()
	_, err := store.SavePage(ctx, scraper.PageWrite{URL: "https://a.test", Success: true},
		[]scraper.AssetWrite{{URL: "https://a.test/1.png", Type: scraper.AssetTypeImage}})
	require.NoError(t, err)

	page, err := store.FindPageByURL(ctx, "https://a.test")
	require.NoError(t, err)
	page.Assets[0].URL = "mutated"

	again, err := store.FindPageByURL(ctx, "https://a.test")
	require.NoError(t, err)
	require.Equal(t, "https://a.test/1.png", again.Assets[0].URL)
}

func TestPageStoreDeleteCascades(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewPageStore()
	id, err := store.SavePage(ctx, scraper.PageWrite{URL: "https://a.test", Success: true},
		[]scraper.AssetWrite{{URL: "https://a.test/v.mp4", Type: scraper.AssetTypeVideo}})
	require.NoError(t, err)

	ok, err := store.DeletePage(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.DeletePage(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	assets, total, err := store.ListAssets(ctx, scraper.AssetQuery{})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, assets)
}

func TestPageStoreListPagesFiltersAndPaginates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewPageStore()
	base := time.Unix(1700000000, 0).UTC()
	for i, u := range []string{"https://cats.test/a", "https://dogs.test/b", "https://cats.test/c"} {
		_, err := store.SavePage(ctx, scraper.PageWrite{
			URL:       u,
			Success:   i != 1,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}, nil)
		require.NoError(t, err)
	}

	pages, total, err := store.ListPages(ctx, scraper.PageQuery{Search: "CATS", Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, pages, 1)
	require.Equal(t, "https://cats.test/c", pages[0].URL)

	failed := false
	pages, total, err = store.ListPages(ctx, scraper.PageQuery{Success: &failed})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "https://dogs.test/b", pages[0].URL)

	pages, _, err = store.ListPages(ctx, scraper.PageQuery{SortBy: "url", SortOrder: "asc", Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, "https://dogs.test/b", pages[0].URL)
}

func TestPageStoreStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewPageStore()
	_, err := store.SavePage(ctx, scraper.PageWrite{URL: "https://a.test", Success: true}, []scraper.AssetWrite{
		{URL: "https://a.test/1.png", Type: scraper.AssetTypeImage, AltText: "Sunset over water"},
		{URL: "https://a.test/v.mp4", Type: scraper.AssetTypeVideo},
	})
	require.NoError(t, err)
	_, err = store.SavePage(ctx, scraper.PageWrite{URL: "https://b.test"}, nil)
	require.NoError(t, err)

	pageStats, err := store.PageStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, pageStats.TotalPages)
	require.Equal(t, 1, pageStats.SuccessfulPages)
	require.Equal(t, 1, pageStats.FailedPages)
	require.Len(t, pageStats.RecentPages, 2)

	assetStats, err := store.AssetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, assetStats.TotalAssets)
	require.Equal(t, 1, assetStats.TotalImages)
	require.Equal(t, 1, assetStats.TotalVideos)
	require.Equal(t, 2, assetStats.TotalPages)

	byAlt, total, err := store.ListAssets(ctx, scraper.AssetQuery{Search: "SUNSET"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "https://a.test/1.png", byAlt[0].URL)

	_, total, err = store.ListAssets(ctx, scraper.AssetQuery{Search: "a.test"})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	videos, total, err := store.ListAssets(ctx, scraper.AssetQuery{Type: scraper.AssetTypeVideo})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	asset, err := store.GetAsset(ctx, videos[0].ID)
	require.NoError(t, err)
	require.Equal(t, "https://a.test", asset.PageURL)

	_, err = store.GetAsset(ctx, 999)
	require.ErrorIs(t, err, scraper.ErrNotFound)
}
