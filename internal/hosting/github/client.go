// Package github resolves release asset metadata on the hosting origin.
// Publishing releases is out of scope; this client only reads.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/lokalert/apkdist/internal/catalog"
	"github.com/lokalert/apkdist/internal/logctx"
	"golang.org/x/oauth2"
)

type Client struct {
	httpClient *http.Client
}

// NewClient builds a client authenticated with a static token.
func NewClient(ctx context.Context, token string) *Client {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})

	return &Client{httpClient: oauth2.NewClient(ctx, tokenSource)}
}

// AssetSize resolves the byte size of a release asset via a HEAD request.
func (c *Client) AssetSize(ctx context.Context, assetURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, assetURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to reach hosting origin: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("hosting origin returned status %d", resp.StatusCode)
	}

	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("hosting origin did not report a content length")
	}

	return resp.ContentLength, nil
}

// BackfillCatalogSizes resolves expected sizes for catalog entries published
// without one. A zero expected size weakens the completion integrity check
// to trust-the-client, so this runs at startup to close that gap where the
// origin cooperates.
func (c *Client) BackfillCatalogSizes(ctx context.Context, cat catalog.Repository) error {
	logger := logctx.LoggerFromContext(ctx)

	versions, err := cat.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list catalog: %w", err)
	}

	for _, v := range versions {
		if v.FileSize > 0 || v.DownloadURL == "" {
			continue
		}

		if !strings.Contains(v.DownloadURL, "github.com") {
			continue
		}

		size, err := c.AssetSize(ctx, v.DownloadURL)
		if err != nil {
			logger.Warn("failed to resolve asset size", "version", v.Version, "err", err)

			continue
		}

		if err := cat.UpdateFileSize(ctx, v.ID, size); err != nil {
			return fmt.Errorf("failed to record asset size for %s: %w", v.Version, err)
		}

		logger.Info("resolved asset size", "version", v.Version, "file_size", humanize.Bytes(uint64(size)))
	}

	return nil
}
