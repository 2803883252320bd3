// Package storage keeps downloaded video files in an object store.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore is the subset of object storage the download pipeline needs.
type ObjectStore interface {
	// Put stores size bytes from body under key. body must be seekable so the
	// upload can be signed and retried.
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// VideoKey is the object key for a platform video: {platform}/{videoID}.
func VideoKey(p model.Platform, videoID string) string {
	id := strings.Trim(path.Clean("/"+videoID), "/")
	return strings.ToLower(string(p)) + "/" + id
}
