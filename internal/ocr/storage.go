// internal/ocr/storage.go
package ocr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxImageBytes caps a single receipt download.
const maxImageBytes = 20 << 20

// StorageClient fetches uploaded receipt images through the storage render
// endpoint, authenticating with the service key.
type StorageClient struct {
	baseURL    string
	bucket     string
	serviceKey string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewStorageClient(baseURL, bucket, serviceKey string, timeout time.Duration, logger *zap.Logger) *StorageClient {
	return &StorageClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		bucket:     bucket,
		serviceKey: serviceKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// objectURL builds the authenticated render URL for path. Absolute URLs
// (already signed) are used as given.
func (c *StorageClient) objectURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	segments := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/render/image/authenticated/%s/%s", c.baseURL, url.PathEscape(c.bucket), strings.Join(segments, "/"))
}

// Fetch downloads the object at path.
func (c *StorageClient) Fetch(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.serviceKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("storage error (status %d): %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("object %s exceeds %d bytes", path, maxImageBytes)
	}

	c.logger.Debug("receipt image fetched",
		zap.String("path", path),
		zap.Int("bytes", len(data)))

	return data, nil
}
