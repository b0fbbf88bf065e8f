package scraper

import (
	"net/url"
	"strings"
)

// ValidateURLs checks a client batch: it must be non-empty, no longer than
// maxURLs, and contain only absolute http(s) URLs.
func ValidateURLs(urls []string, maxURLs int) error {
	if len(urls) == 0 {
		return NewValidationError("urls", "URLs array is required and must not be empty")
	}
	if maxURLs > 0 && len(urls) > maxURLs {
		return NewValidationError("urls", "Maximum %d URLs allowed per request", maxURLs)
	}
	var invalid []string
	for _, raw := range urls {
		if !IsScrapableURL(raw) {
			invalid = append(invalid, raw)
		}
	}
	if len(invalid) > 0 {
		return NewValidationError("urls", "Invalid URLs: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// IsScrapableURL reports whether raw is an absolute http or https URL with a host.
func IsScrapableURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
