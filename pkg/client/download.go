package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/macworp/macworp-client/internal/metrics"
	"github.com/macworp/macworp-client/pkg/protocol"
)

// DownloadOptions are the independent query flags of a download URL.
type DownloadOptions struct {
	Inline       bool // is-inline: display instead of attachment
	WithMetadata bool // with-metadata: MMD-* response headers
	Table        bool // is-table: tabular files answered as JSON
}

// Download is an open download stream.
type Download struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64 // -1 if unknown

	// Header and Description come from the MMD-* response headers.
	Header      string
	Description string
	HasMetadata bool
}

func projectPath(projectID int, suffix string) string {
	return "/api/projects/" + strconv.Itoa(projectID) + suffix
}

// MintOneTimeToken exchanges the session token for a single-use download token.
func (c *Client) MintOneTimeToken(ctx context.Context) (string, error) {
	var out protocol.OneTimeTokenResponse
	if err := c.getJSON(ctx, "/api/users/one-time-use-token", nil, &out); err != nil {
		metrics.RecordOneTimeToken(false)
		return "", fmt.Errorf("mint one-time token: %w", err)
	}
	if out.Token == "" {
		metrics.RecordOneTimeToken(false)
		return "", fmt.Errorf("mint one-time token: %w", &APIError{
			StatusCode:  http.StatusOK,
			Status:      http.StatusText(http.StatusOK),
			Description: "response without token",
		})
	}
	metrics.RecordOneTimeToken(true)
	return out.Token, nil
}

// DownloadURL composes the download URL for a minted one-time token.
func (c *Client) DownloadURL(projectID int, path, oneTimeToken string, opts DownloadOptions) string {
	q := url.Values{}
	q.Set("path", path)
	q.Set("one-time-use-token", oneTimeToken)
	if opts.Inline {
		q.Set("is-inline", "1")
	}
	if opts.WithMetadata {
		q.Set("with-metadata", "1")
	}
	if opts.Table {
		q.Set("is-table", "1")
	}
	return c.endpoint(projectPath(projectID, "/download"), q)
}

// MintDownloadURL mints a one-time token and returns the authenticated
// download URL for path. Failures are not retried.
func (c *Client) MintDownloadURL(ctx context.Context, projectID int, path string, opts DownloadOptions) (string, error) {
	token, err := c.MintOneTimeToken(ctx)
	if err != nil {
		return "", err
	}
	return c.DownloadURL(projectID, path, token, opts), nil
}

// Fetch opens an authenticated download URL. The URL carries its own
// credential, so no session header is sent; a 401 still ends the session
// the URL was minted under. Reading the body is limited by ctx only, the
// request timeout applies to the response headers. The caller closes Body.
func (c *Client) Fetch(ctx context.Context, downloadURL string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, err
	}
	current, _ := c.tokens.Get()
	resp, err := c.do(c.stream, req, current)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	d := &Download{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}
	if h, ok := resp.Header[http.CanonicalHeaderKey(protocol.MetadataHeaderHeader)]; ok && len(h) > 0 {
		d.Header = h[0]
		d.HasMetadata = true
	}
	if v := resp.Header.Get(protocol.MetadataDescriptionHeader); v != "" {
		d.Description = v
		d.HasMetadata = true
	}
	return d, nil
}

// FileSize returns the declared size in bytes of the file at path.
func (c *Client) FileSize(ctx context.Context, projectID int, path string) (int64, error) {
	var out protocol.FileSizeResponse
	q := url.Values{"path": {path}}
	if err := c.getJSON(ctx, projectPath(projectID, "/file-size"), q, &out); err != nil {
		return 0, fmt.Errorf("file size of %s: %w", path, err)
	}
	return out.Size, nil
}

// Metadata returns the header/description pair of path.
func (c *Client) Metadata(ctx context.Context, projectID int, path string) (*protocol.MetadataResponse, error) {
	var out protocol.MetadataResponse
	q := url.Values{"path": {path}}
	if err := c.getJSON(ctx, projectPath(projectID, "/metadata"), q, &out); err != nil {
		return nil, fmt.Errorf("metadata of %s: %w", path, err)
	}
	return &out, nil
}

// ListFiles lists the folders and files of dir.
func (c *Client) ListFiles(ctx context.Context, projectID int, dir string) (*protocol.DirectoryListing, error) {
	var out protocol.DirectoryListing
	q := url.Values{"dir": {dir}}
	if err := c.getJSON(ctx, projectPath(projectID, "/files"), q, &out); err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return &out, nil
}
