// Package gcs archives raw page bodies to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

const defaultContentType = "text/html; charset=utf-8"

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Config names the archive bucket.
type Config struct {
	Bucket string
}

// Archive stores page snapshots under content-addressed keys. An object that
// already exists is never rewritten, so archiving the same body twice is a
// no-op on the bucket.
type Archive struct {
	bucket *storage.BucketHandle
	name   string
}

// New creates an Archive over an existing client.
func New(client *storage.Client, cfg Config) (*Archive, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	name := strings.TrimSpace(cfg.Bucket)
	if name == "" {
		return nil, errors.New("archive bucket is required")
	}
	return &Archive{bucket: client.Bucket(name), name: name}, nil
}

// PutObject uploads body under key and returns its gs:// URI. The upload is
// create-only and carries a CRC32C checksum that GCS verifies.
func (a *Archive) PutObject(ctx context.Context, key string, contentType string, body []byte) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("archive key is required")
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	w := a.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.CRC32C = crc32.Checksum(body, castagnoli)
	w.SendCRC32C = true

	_, writeErr := w.Write(body)
	closeErr := w.Close()
	switch {
	case writeErr != nil:
		return "", fmt.Errorf("upload %s: %w", key, writeErr)
	case alreadyArchived(closeErr):
	case closeErr != nil:
		return "", fmt.Errorf("finalize %s: %w", key, closeErr)
	}
	return a.uri(key), nil
}

func (a *Archive) uri(key string) string {
	return "gs://" + a.name + "/" + key
}

// alreadyArchived reports whether the create-only precondition failed.
func alreadyArchived(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
