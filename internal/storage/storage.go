// Package storage keeps uploaded cover images.
//
// Objects are addressed by (bucket, key). Both stores serve reads through
// the remote store's public object route, so the URL of an object does not
// depend on where its bytes live.
package storage

import (
	"context"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/sakif/captured-thinkings/internal/apperror"
)

// ObjectStore provides access to object storage.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, Info, error)
	Delete(ctx context.Context, bucket, key string) error
	// PublicURL is where anyone can GET the object.
	PublicURL(bucket, key string) string
}

// Info describes a stored object.
type Info struct {
	ContentType string
	Size        int64
}

// PublicPath is the route that serves an object publicly.
const PublicPath = "/storage/v1/object/public/"

// publicURL joins base, PublicPath, bucket and key, escaping each key segment.
func publicURL(base, bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + PublicPath + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
}

// ValidateKey rejects keys that could escape their bucket.
func ValidateKey(bucket, key string) error {
	if bucket == "" || strings.ContainsAny(bucket, `/\.`) {
		return apperror.ValidationFailed("bucket", "invalid bucket name")
	}
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return apperror.ValidationFailed("path", "invalid object path")
	}
	if path.Clean(key) != key {
		return apperror.ValidationFailed("path", "invalid object path")
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return apperror.ValidationFailed("path", "invalid object path")
		}
	}
	return nil
}
