package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/media-scraper/internal/scraper"
)

const (
	browseTimeout       = 5 * time.Second
	invalidAssetTypeMsg = `Invalid asset type. Must be "image" or "video"`
)

type pagination struct {
	CurrentPage  int  `json:"currentPage"`
	TotalPages   int  `json:"totalPages"`
	TotalItems   int  `json:"totalItems"`
	ItemsPerPage int  `json:"itemsPerPage"`
	HasNextPage  bool `json:"hasNextPage"`
	HasPrevPage  bool `json:"hasPrevPage"`
}

func newPagination(page, limit, total int) pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return pagination{
		CurrentPage:  page,
		TotalPages:   pages,
		TotalItems:   total,
		ItemsPerPage: limit,
		HasNextPage:  page < pages,
		HasPrevPage:  page > 1,
	}
}

// listPages handles GET /pages?page=&limit=&search=&success=&sortBy=&sortOrder=.
func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := scraper.PageQuery{
		Page:      atoiOr(q.Get("page"), 1),
		Limit:     atoiOr(q.Get("limit"), 10),
		Search:    strings.TrimSpace(q.Get("search")),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}
	switch q.Get("success") {
	case "true":
		v := true
		query.Success = &v
	case "false":
		v := false
		query.Success = &v
	}
	query = query.Normalize()

	ctx, cancel := context.WithTimeout(r.Context(), browseTimeout)
	defer cancel()
	pages, total, err := s.store.ListPages(ctx, query)
	if err != nil {
		s.writeFailure(w, err, "failed to list pages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"data":       pages,
		"pagination": newPagination(query.Page, query.Limit, total),
	})
}

func (s *Server) pageStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), browseTimeout)
	defer cancel()
	stats, err := s.store.PageStats(ctx)
	if err != nil {
		s.writeFailure(w, err, "failed to load page statistics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": stats})
}

// getPageByURL handles GET /pages/url/{url}; the URL may be percent-encoded.
func (s *Server) getPageByURL(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "*")
	target, err := url.PathUnescape(raw)
	if err != nil || target == "" {
		writeError(w, http.StatusBadRequest, "URL parameter is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), browseTimeout)
	defer cancel()
	page, err := s.store.FindPageByURL(ctx, target)
	if err != nil {
		s.writeFailure(w, err, "Page not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": page})
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page ID")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), browseTimeout)
	defer cancel()
	page, err := s.store.GetPage(ctx, id)
	if err != nil {
		s.writeFailure(w, err, "Page not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": page})
}

func (s *Server) deletePage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page ID")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), browseTimeout)
	defer cancel()
	deleted, err := s.store.DeletePage(ctx, id)
	if err != nil {
		s.writeFailure(w, err, "failed to delete page")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Page not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Page deleted successfully"})
}

// listAssets handles GET /assets?page=&limit=&type=&search=&sortBy=&sortOrder=.
func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	assetType, ok := parseAssetType(r.URL.Query().Get("type"), true)
	if !ok {
		writeError(w, http.StatusBadRequest, invalidAssetTypeMsg)
		return
	}
	s.writeAssets(w, r, assetType)
}

func (s *Server) listAssetsByType(w http.ResponseWriter, r *http.Request) {
	assetType, ok := parseAssetType(chi.URLParam(r, "type"), false)
	if !ok {
		writeError(w, http.StatusBadRequest, invalidAssetTypeMsg)
		return
	}
	s.writeAssets(w, r, assetType)
}

func (s *Server) writeAssets(w http.ResponseWriter, r *http.Request, assetType scraper.AssetType) {
	q := r.URL.Query()
	query := scraper.AssetQuery{
		Page:      atoiOr(q.Get("page"), 1),
		Limit:     atoiOr(q.Get("limit"), 10),
		Type:      assetType,
		Search:    strings.TrimSpace(q.Get("search")),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}.Normalize()

	ctx, cancel := context.WithTimeout(r.Context(), browseTimeout)
	defer cancel()
	assets, total, err := s.store.ListAssets(ctx, query)
	if err != nil {
		s.writeFailure(w, err, "failed to list assets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"data":       assets,
		"pagination": newPagination(query.Page, query.Limit, total),
	})
}

func (s *Server) assetStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), browseTimeout)
	defer cancel()
	stats, err := s.store.AssetStats(ctx)
	if err != nil {
		s.writeFailure(w, err, "failed to load asset statistics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": stats})
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid asset ID")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), browseTimeout)
	defer cancel()
	asset, err := s.store.GetAsset(ctx, id)
	if err != nil {
		s.writeFailure(w, err, "Asset not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": asset})
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// parseAssetType accepts image or video; an empty value is allowed only when optional.
func parseAssetType(raw string, optional bool) (scraper.AssetType, bool) {
	switch t := scraper.AssetType(strings.ToLower(raw)); t {
	case scraper.AssetTypeImage, scraper.AssetTypeVideo:
		return t, true
	case "":
		return "", optional
	default:
		return "", false
	}
}

func atoiOr(raw string, def int) int {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
