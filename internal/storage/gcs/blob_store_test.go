package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestArchive(t *testing.T, handler http.Handler) *Archive {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	archive, err := New(client, Config{Bucket: "archive-bucket"})
	require.NoError(t, err)
	return archive
}

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{Bucket: "  "})
	require.EqualError(t, err, "archive bucket is required")
}

func TestPutObjectIsCreateOnlyWithChecksum(t *testing.T) {
	t.Parallel()

	archive := newTestArchive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/archive-bucket/o")
		assert.Equal(t, "pages/abc.html", r.URL.Query().Get("name"))
		assert.Equal(t, "0", r.URL.Query().Get("ifGenerationMatch"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "<html>archived</html>")
		assert.Contains(t, string(body), `"crc32c"`)
		assert.Contains(t, string(body), defaultContentType)

		fmt.Fprintln(w, `{"name": "pages/abc.html", "bucket": "archive-bucket"}`)
	}))

	uri, err := archive.PutObject(context.Background(), "/pages/abc.html", "", []byte("<html>archived</html>"))
	require.NoError(t, err)
	require.Equal(t, "gs://archive-bucket/pages/abc.html", uri)
}

func TestPutObjectExistingObjectIsNotAnError(t *testing.T) {
	t.Parallel()

	archive := newTestArchive(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprintln(w, `{"error": {"code": 412, "message": "conditionNotMet"}}`)
	}))

	uri, err := archive.PutObject(context.Background(), "pages/abc.html", "text/html", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "gs://archive-bucket/pages/abc.html", uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	archive := newTestArchive(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprintln(w, `{"error": {"code": 403, "message": "denied"}}`)
	}))

	_, err := archive.PutObject(context.Background(), "pages/abc.html", "text/html", []byte("x"))
	require.ErrorContains(t, err, "pages/abc.html")
}

func TestPutObjectRequiresKey(t *testing.T) {
	t.Parallel()

	archive := newTestArchive(t, http.NotFoundHandler())
	_, err := archive.PutObject(context.Background(), " / ", "text/html", []byte("x"))
	require.EqualError(t, err, "archive key is required")
}
