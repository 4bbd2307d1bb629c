// ABOUTME: HTTP client for the ANF authorization service permission-check endpoint
// ABOUTME: Forwards the opaque KeyMe token verbatim in the KEYME-TOKEN header

package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// TokenHeader carries the opaque credential to ANF. The token is never
// parsed or decoded locally; it is a cache key and a pass-through header.
const TokenHeader = "KEYME-TOKEN"

// upstreamTimeout bounds every call to the authorization service.
const upstreamTimeout = 10 * time.Second

// Grant is the result of an ANF permission check.
type Grant struct {
	Granted bool   `json:"granted"`
	User    string `json:"user"`
	Email   string `json:"email"`
}

// UserIdentifier returns the identity ANF attached to the grant, if any.
func (g Grant) UserIdentifier() string {
	if g.User != "" {
		return g.User
	}
	return g.Email
}

// Client issues permission checks against the ANF authorization service.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates an ANF client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: upstreamTimeout},
	}
}

// CheckPermission calls GET {base}/api/permission/check?permission_slug=slug
// with the token in the KEYME-TOKEN header. It returns the decoded grant, the
// HTTP status code, and an error only for transport failures. Authorization
// outcomes (non-200, granted=false) are left to the caller to interpret.
func (c *Client) CheckPermission(ctx context.Context, token, slug string) (Grant, int, error) {
	ctx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	checkURL := c.baseURL + "/api/permission/check?permission_slug=" + url.QueryEscape(slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return Grant{}, 0, fmt.Errorf("building permission check request: %w", err)
	}
	req.Header.Set(TokenHeader, token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Grant{}, 0, fmt.Errorf("permission check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Grant{}, resp.StatusCode, nil
	}

	var grant Grant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return Grant{}, resp.StatusCode, fmt.Errorf("decoding permission check response: %w", err)
	}
	return grant, resp.StatusCode, nil
}

// Proxy forwards a JSON body to an ANF endpoint (login/logout) and returns
// the upstream status code and body verbatim.
func (c *Client) Proxy(ctx context.Context, path string, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("building proxy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("proxy request: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading proxy response: %w", err)
	}
	return resp.StatusCode, out, nil
}
