package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxBodyBytes bounds a single response body.
const MaxBodyBytes = 32 << 20

// Client downloads layer pages and asset bundles over HTTP.
// It implements ports.LayerRepository and ports.BundleRepository.
// Deadlines come from the caller's context.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a new Client. A zero timeout leaves the deadline to the context.
func NewClient(userAgent string, timeout time.Duration) *Client {
	return &Client{
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchPage performs the layer query at url and returns the raw document.
func (c *Client) FetchPage(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, url, "application/json")
}

// FetchBundle downloads the asset bundle at url.
func (c *Client) FetchBundle(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, url, "")
}

func (c *Client) get(ctx context.Context, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// StatusError reports a non-200 response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}
