package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type uploadResponse struct {
	Key       string `json:"key"`
	PublicURL string `json:"public_url"`
}

// Upload stores r under bucket/path and returns the object's public URL.
// It needs a session.
func (c *Client) Upload(ctx context.Context, bucket, path string, r io.Reader, size int64, contentType string) (string, error) {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	target := c.baseURL + "/storage/v1/object/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, r)
	if err != nil {
		return "", fmt.Errorf("remote: building upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)

	var resp uploadResponse
	if err := c.do("upload", req, &resp); err != nil {
		return "", err
	}
	return resp.PublicURL, nil
}
