package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const jimengBase = "https://jimeng.jianying.com"

// Client is a shared HTTP client for all jimeng.jianying.com and
// ByteDance upload API calls, carrying the long timeout video
// submission and polling need.
type Client struct {
	httpClient *http.Client
	oracle     SigningOracle
}

// NewClient builds a Client. oracle may be nil if Seedance submissions
// are not needed.
func NewClient(oracle SigningOracle) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		oracle:     oracle,
	}
}

// do executes a prepared request and returns its body, treating any
// non-2xx status as an error that includes a truncated body snippet.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 500))
	}
	return body, nil
}

// post issues a signed POST against a jimeng API path, attaching the
// standard fake-browser headers and query parameters.
func (c *Client) post(ctx context.Context, fullURL, uri, sessionToken string, params url.Values, jsonBody string) ([]byte, error) {
	u, err := url.Parse(fullURL)
	if err != nil {
		return nil, err
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header = buildHeaders(sessionToken, uri)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// TestSession issues a lightweight authenticated probe against the
// upstream to confirm a session token is still valid, without
// consuming any quota-bearing resource.
func (c *Client) TestSession(ctx context.Context, sessionToken string) error {
	uri := "/mweb/v1/get_user_benefit"
	_, err := c.post(ctx, jimengBase+uri, uri, sessionToken, standardQueryParams(), mustJSON(map[string]any{}))
	return err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
