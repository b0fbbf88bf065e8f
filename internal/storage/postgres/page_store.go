// Package postgres provides the Postgres-backed URL cache.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/media-scraper/internal/scraper"
)

const (
	recentPagesLimit  = 5
	recentAssetsLimit = 5
)

const pageColumns = `id, url, COALESCE(title, ''), COALESCE(description, ''), success,
	COALESCE(error_message, ''), created_at, updated_at`

const assetSelect = `SELECT a.id, a.scraped_page_id, p.url, a.asset_url, a.asset_type,
	COALESCE(a.alt_text, ''), COALESCE(a.title, ''), COALESCE(a.media_type, ''),
	COALESCE(a.poster, ''), a.created_at
FROM scraped_assets a
JOIN scraped_pages p ON p.id = a.scraped_page_id`

const assetCount = `SELECT COUNT(*) FROM scraped_assets a
JOIN scraped_pages p ON p.id = a.scraped_page_id`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PageStore persists scraped pages and their assets.
type PageStore struct {
	pool pool
}

var _ scraper.PageStore = (*PageStore)(nil)

// New connects a pgx pool using cfg and verifies it with a ping.
func New(ctx context.Context, cfg Config) (*PageStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PageStore{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*PageStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &PageStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *PageStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *PageStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// SavePage upserts the page row keyed by URL and replaces all of its assets
// inside one transaction.
func (s *PageStore) SavePage(ctx context.Context, page scraper.PageWrite, assets []scraper.AssetWrite) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin save page: %w", err)
	}
	id, err := UpsertPage(ctx, tx, page)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, err
	}
	if err := ReplaceAssets(ctx, tx, id, assets); err != nil {
		_ = tx.Rollback(ctx)
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit save page: %w", err)
	}
	return id, nil
}

// UpsertPage inserts or overwrites the row for page.URL and returns its id.
// created_at is reset so the validity window restarts from this scrape.
func UpsertPage(ctx context.Context, q querier, page scraper.PageWrite) (int64, error) {
	createdAt := page.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	const query = `
INSERT INTO scraped_pages (url, title, description, success, error_message, created_at, updated_at)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, NULLIF($5, ''), $6, $6)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	success = EXCLUDED.success,
	error_message = EXCLUDED.error_message,
	created_at = EXCLUDED.created_at,
	updated_at = EXCLUDED.updated_at
RETURNING id`

	var id int64
	err := q.QueryRow(ctx, query,
		page.URL,
		page.Title,
		page.Description,
		page.Success,
		page.ErrorMessage,
		createdAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert page: %w", err)
	}
	return id, nil
}

// ReplaceAssets deletes every asset of pageID and inserts assets in order.
func ReplaceAssets(ctx context.Context, q querier, pageID int64, assets []scraper.AssetWrite) error {
	if _, err := q.Exec(ctx, `DELETE FROM scraped_assets WHERE scraped_page_id = $1`, pageID); err != nil {
		return fmt.Errorf("delete assets: %w", err)
	}
	const insert = `
INSERT INTO scraped_assets (scraped_page_id, asset_url, asset_type, alt_text, title, media_type, poster)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))`
	for _, a := range assets {
		_, err := q.Exec(ctx, insert,
			pageID,
			a.URL,
			string(a.Type),
			a.AltText,
			a.Title,
			a.MediaType,
			a.Poster,
		)
		if err != nil {
			return fmt.Errorf("insert asset: %w", err)
		}
	}
	return nil
}

// FindPageByURL returns the cached page for url with its assets, or scraper.ErrNotFound.
func (s *PageStore) FindPageByURL(ctx context.Context, url string) (scraper.Page, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pageColumns+` FROM scraped_pages WHERE url = $1`, url)
	page, err := scanPage(row)
	if err != nil {
		return scraper.Page{}, wrapNotFound("find page by url", err)
	}
	if page.Assets, err = s.pageAssets(ctx, page.ID); err != nil {
		return scraper.Page{}, err
	}
	return page, nil
}

// GetPage returns a page by id with its assets.
func (s *PageStore) GetPage(ctx context.Context, id int64) (scraper.Page, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pageColumns+` FROM scraped_pages WHERE id = $1`, id)
	page, err := scanPage(row)
	if err != nil {
		return scraper.Page{}, wrapNotFound("get page", err)
	}
	if page.Assets, err = s.pageAssets(ctx, page.ID); err != nil {
		return scraper.Page{}, err
	}
	return page, nil
}

// DeletePage removes a page; its assets cascade. It reports whether a row existed.
func (s *PageStore) DeletePage(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scraped_pages WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete page: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListPages returns one page of results plus the total matching count.
func (s *PageStore) ListPages(ctx context.Context, q scraper.PageQuery) ([]scraper.Page, int, error) {
	q = q.Normalize()
	var (
		conds []string
		args  []any
	)
	if q.Search != "" {
		args = append(args, "%"+q.Search+"%")
		conds = append(conds, fmt.Sprintf("(url ILIKE $%d OR title ILIKE $%d)", len(args), len(args)))
	}
	if q.Success != nil {
		args = append(args, *q.Success)
		conds = append(conds, fmt.Sprintf("success = $%d", len(args)))
	}
	where := whereClause(conds)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scraped_pages`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pages: %w", err)
	}

	args = append(args, q.Limit, q.Offset())
	query := fmt.Sprintf(`SELECT %s FROM scraped_pages%s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		pageColumns, where, q.SortBy, q.SortOrder, len(args)-1, len(args))
	pages, err := s.queryPages(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list pages: %w", err)
	}
	if err := s.attachAssets(ctx, pages); err != nil {
		return nil, 0, err
	}
	return pages, total, nil
}

// PageStats returns page totals and the most recently scraped pages.
func (s *PageStore) PageStats(ctx context.Context) (scraper.PageStats, error) {
	var stats scraper.PageStats
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*),
	COUNT(*) FILTER (WHERE success),
	COUNT(*) FILTER (WHERE NOT success)
FROM scraped_pages`).Scan(&stats.TotalPages, &stats.SuccessfulPages, &stats.FailedPages)
	if err != nil {
		return scraper.PageStats{}, fmt.Errorf("page stats: %w", err)
	}
	recent, err := s.queryPages(ctx,
		fmt.Sprintf(`SELECT %s FROM scraped_pages ORDER BY created_at DESC LIMIT %d`, pageColumns, recentPagesLimit))
	if err != nil {
		return scraper.PageStats{}, fmt.Errorf("recent pages: %w", err)
	}
	stats.RecentPages = recent
	return stats, nil
}

// ListAssets returns one page of assets plus the total matching count.
func (s *PageStore) ListAssets(ctx context.Context, q scraper.AssetQuery) ([]scraper.Asset, int, error) {
	q = q.Normalize()
	var (
		conds []string
		args  []any
	)
	if q.Type != "" {
		args = append(args, string(q.Type))
		conds = append(conds, fmt.Sprintf("a.asset_type = $%d", len(args)))
	}
	if q.Search != "" {
		args = append(args, "%"+q.Search+"%")
		conds = append(conds, fmt.Sprintf("(a.alt_text ILIKE $%d OR a.asset_url ILIKE $%d OR p.url ILIKE $%d)",
			len(args), len(args), len(args)))
	}
	where := whereClause(conds)

	var total int
	if err := s.pool.QueryRow(ctx, assetCount+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count assets: %w", err)
	}

	args = append(args, q.Limit, q.Offset())
	query := fmt.Sprintf(`%s%s ORDER BY a.%s %s LIMIT $%d OFFSET $%d`,
		assetSelect, where, q.SortBy, q.SortOrder, len(args)-1, len(args))
	assets, err := s.queryAssets(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list assets: %w", err)
	}
	return assets, total, nil
}

// GetAsset returns one asset with its page URL.
func (s *PageStore) GetAsset(ctx context.Context, id int64) (scraper.Asset, error) {
	asset, err := scanAsset(s.pool.QueryRow(ctx, assetSelect+` WHERE a.id = $1`, id))
	if err != nil {
		return scraper.Asset{}, wrapNotFound("get asset", err)
	}
	return asset, nil
}

// AssetStats returns asset totals by type and the most recent assets.
func (s *PageStore) AssetStats(ctx context.Context) (scraper.AssetStats, error) {
	var stats scraper.AssetStats
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*),
	COUNT(*) FILTER (WHERE asset_type = 'image'),
	COUNT(*) FILTER (WHERE asset_type = 'video'),
	(SELECT COUNT(*) FROM scraped_pages)
FROM scraped_assets`).Scan(&stats.TotalAssets, &stats.TotalImages, &stats.TotalVideos, &stats.TotalPages)
	if err != nil {
		return scraper.AssetStats{}, fmt.Errorf("asset stats: %w", err)
	}
	recent, err := s.queryAssets(ctx,
		fmt.Sprintf(`%s ORDER BY a.created_at DESC LIMIT %d`, assetSelect, recentAssetsLimit))
	if err != nil {
		return scraper.AssetStats{}, fmt.Errorf("recent assets: %w", err)
	}
	stats.RecentAssets = recent
	return stats, nil
}

func (s *PageStore) pageAssets(ctx context.Context, pageID int64) ([]scraper.Asset, error) {
	assets, err := s.queryAssets(ctx, assetSelect+` WHERE a.scraped_page_id = $1 ORDER BY a.id`, pageID)
	if err != nil {
		return nil, fmt.Errorf("load page assets: %w", err)
	}
	return assets, nil
}

func (s *PageStore) attachAssets(ctx context.Context, pages []scraper.Page) error {
	if len(pages) == 0 {
		return nil
	}
	ids := make([]int64, len(pages))
	index := make(map[int64]int, len(pages))
	for i, p := range pages {
		ids[i] = p.ID
		index[p.ID] = i
	}
	assets, err := s.queryAssets(ctx, assetSelect+` WHERE a.scraped_page_id = ANY($1) ORDER BY a.id`, ids)
	if err != nil {
		return fmt.Errorf("load listed page assets: %w", err)
	}
	for _, a := range assets {
		i := index[a.PageID]
		pages[i].Assets = append(pages[i].Assets, a)
	}
	return nil
}

func (s *PageStore) queryPages(ctx context.Context, query string, args ...any) ([]scraper.Page, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	pages := make([]scraper.Page, 0)
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		page.Assets = make([]scraper.Asset, 0)
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

func (s *PageStore) queryAssets(ctx context.Context, query string, args ...any) ([]scraper.Asset, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	assets := make([]scraper.Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func scanPage(row pgx.Row) (scraper.Page, error) {
	var p scraper.Page
	err := row.Scan(&p.ID, &p.URL, &p.Title, &p.Description, &p.Success, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanAsset(row pgx.Row) (scraper.Asset, error) {
	var (
		a         scraper.Asset
		assetType string
	)
	err := row.Scan(&a.ID, &a.PageID, &a.PageURL, &a.URL, &assetType,
		&a.AltText, &a.Title, &a.MediaType, &a.Poster, &a.CreatedAt)
	a.Type = scraper.AssetType(assetType)
	return a, err
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func wrapNotFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, scraper.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
