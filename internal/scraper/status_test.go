package scraper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobStatusTransitions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		from, to JobStatus
		allowed  bool
	}{
		{JobStatusQueued, JobStatusProcessing, true},
		{JobStatusQueued, JobStatusFailed, true},
		{JobStatusQueued, JobStatusCompleted, false},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusQueued, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusCompleted, JobStatusProcessing, false},
		{JobStatusFailed, JobStatusCompleted, false},
		{JobStatusFailed, JobStatusQueued, false},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.allowed, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
		err := tc.from.CheckTransition(tc.to)
		if tc.allowed {
			require.NoError(t, err)
		} else {
			require.True(t, errors.Is(err, ErrIllegalTransition))
		}
	}
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, JobStatusQueued.Terminal())
	require.False(t, JobStatusProcessing.Terminal())
	require.True(t, JobStatusCompleted.Terminal())
	require.True(t, JobStatusFailed.Terminal())
	require.False(t, JobStatus("canceled").Valid())
}

func TestSummarizeCache(t *testing.T) {
	t.Parallel()

	stats := SummarizeCache([]ScrapeResult{
		{URL: "a", Cached: true},
		{URL: "b"},
		{URL: "c"},
	})
	require.Equal(t, CacheStats{
		TotalRequests:  3,
		CachedRequests: 1,
		FreshRequests:  2,
		CacheHitRate:   33.33,
	}, stats)

	require.Equal(t, CacheStats{}, SummarizeCache(nil))
}

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	base := errors.New("connection refused")
	wrapped := &PipelineError{Op: "save page", Err: base}
	require.True(t, IsPipeline(wrapped))
	require.ErrorIs(t, wrapped, base)
	require.False(t, IsValidation(wrapped))

	v := NewValidationError("urls", "maximum %d URLs allowed per request", 10)
	require.True(t, IsValidation(v))
	require.Equal(t, "urls: maximum 10 URLs allowed per request", v.Error())

	fe := &FetchError{URL: "https://a.test", StatusCode: 404, Err: errors.New("Not Found")}
	require.Equal(t, "fetch https://a.test: status 404: Not Found", fe.Error())
}

func TestPageQueryNormalize(t *testing.T) {
	t.Parallel()

	q := PageQuery{Page: 0, Limit: 500, SortBy: "drop table", SortOrder: "asc"}.Normalize()
	require.Equal(t, 1, q.Page)
	require.Equal(t, 100, q.Limit)
	require.Equal(t, "created_at", q.SortBy)
	require.Equal(t, "ASC", q.SortOrder)
	require.Equal(t, 0, q.Offset())

	aq := AssetQuery{Page: 3, Limit: 20, SortBy: "asset_url"}.Normalize()
	require.Equal(t, 40, aq.Offset())
	require.Equal(t, "DESC", aq.SortOrder)
}

func TestValidateURLs(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateURLs([]string{"https://a.test", "http://b.test/x?y=1"}, 10))

	err := ValidateURLs(nil, 10)
	require.True(t, IsValidation(err))

	err = ValidateURLs([]string{"https://a.test", "https://b.test", "https://c.test"}, 2)
	require.True(t, IsValidation(err))
	require.Contains(t, err.Error(), "Maximum 2 URLs allowed per request")

	err = ValidateURLs([]string{"https://ok.test", "ftp://files.test", "not a url", "/relative"}, 10)
	require.True(t, IsValidation(err))
	require.Contains(t, err.Error(), "Invalid URLs: ftp://files.test, not a url, /relative")
}
