// Package extract pulls images, videos, and page metadata out of HTML.
//
// Extraction is pure: the same document and base URL always produce the same
// result. Relative references are resolved against the base URL and entries
// that cannot be resolved are skipped. Results follow document order and are
// never deduplicated.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/media-scraper/internal/scraper"
)

const descriptionFallbackRunes = 200

// Engine implements scraper.Extractor using goquery.
type Engine struct{}

// New returns an Engine.
func New() *Engine {
	return &Engine{}
}

// Analyze parses content once and returns both the media and page metadata.
func (e *Engine) Analyze(content []byte, baseURL string) (scraper.ScrapedData, scraper.PageMeta, error) {
	base, err := parseBase(baseURL)
	if err != nil {
		return scraper.ScrapedData{}, scraper.PageMeta{}, &scraper.ExtractionError{URL: baseURL, Err: err}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return scraper.ScrapedData{}, scraper.PageMeta{}, &scraper.ExtractionError{
			URL: baseURL,
			Err: fmt.Errorf("parse html: %w", err),
		}
	}
	data := scraper.ScrapedData{
		Images: images(doc, base),
		Videos: videos(doc, base),
	}
	return data, meta(doc), nil
}

// Extract returns the images and videos found in content.
func (e *Engine) Extract(content []byte, baseURL string) (scraper.ScrapedData, error) {
	data, _, err := e.Analyze(content, baseURL)
	return data, err
}

func parseBase(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("base url is empty")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base url %q is not absolute", raw)
	}
	return base, nil
}

func images(doc *goquery.Document, base *url.URL) []scraper.ImageData {
	out := make([]scraper.ImageData, 0)
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := s.AttrOr("src", "")
		if src == "" {
			src = s.AttrOr("data-src", "")
		}
		if src == "" {
			return
		}
		resolved, ok := resolve(base, src)
		if !ok {
			return
		}
		out = append(out, scraper.ImageData{
			URL:   resolved,
			Alt:   s.AttrOr("alt", ""),
			Title: s.AttrOr("title", ""),
		})
	})
	return out
}

// videos collects direct video sources first, then nested <source> children.
func videos(doc *goquery.Document, base *url.URL) []scraper.VideoData {
	out := make([]scraper.VideoData, 0)
	doc.Find("video").Each(func(_ int, s *goquery.Selection) {
		src := s.AttrOr("src", "")
		if src == "" {
			return
		}
		resolved, ok := resolve(base, src)
		if !ok {
			return
		}
		var poster *string
		if raw := s.AttrOr("poster", ""); raw != "" {
			if p, ok := resolve(base, raw); ok {
				poster = &p
			}
		}
		out = append(out, scraper.VideoData{
			URL:    resolved,
			Poster: poster,
			Type:   typeOrDefault(s.AttrOr("type", "")),
		})
	})
	doc.Find("video source").Each(func(_ int, s *goquery.Selection) {
		src := s.AttrOr("src", "")
		if src == "" {
			return
		}
		resolved, ok := resolve(base, src)
		if !ok {
			return
		}
		out = append(out, scraper.VideoData{
			URL:  resolved,
			Type: typeOrDefault(s.AttrOr("type", "")),
		})
	})
	return out
}

func meta(doc *goquery.Document) scraper.PageMeta {
	description := strings.TrimSpace(doc.Find(`meta[name="description"]`).First().AttrOr("content", ""))
	if description == "" {
		description = truncateRunes(doc.Find("p").First().Text(), descriptionFallbackRunes)
	}
	return scraper.PageMeta{
		Title:       doc.Find("title").First().Text(),
		Description: description,
	}
}

func resolve(base *url.URL, ref string) (string, bool) {
	u, err := base.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", false
	}
	return u.String(), true
}

func typeOrDefault(t string) string {
	if t == "" {
		return scraper.DefaultVideoType
	}
	return t
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
