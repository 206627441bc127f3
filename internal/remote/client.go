package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/wooligotchi/internal/account"
	"github.com/talgya/wooligotchi/internal/metrics"
	"github.com/talgya/wooligotchi/internal/signing"
)

// Client talks to the authority over HTTP.
type Client struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
	Metrics    *metrics.Core
}

// NewClient creates a Client targeting baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ready checks GET /healthz.
func (c *Client) Ready(ctx context.Context) error {
	var out map[string]any
	return c.getJSON(ctx, "/healthz", &out)
}

// Lives fetches the lifetime number of lives the authority granted key.
func (c *Client) Lives(ctx context.Context, key account.Key) (LivesView, error) {
	q := url.Values{}
	q.Set("address", key.Address)
	q.Set("chainId", strconv.FormatInt(key.NetworkID, 10))
	var out LivesView
	if err := c.getJSON(ctx, "/lives?"+q.Encode(), &out); err != nil {
		return LivesView{}, err
	}
	return out, nil
}

// Ledger fetches the authority's WOOL view of owner.
func (c *Client) Ledger(ctx context.Context, owner string) (LedgerView, error) {
	q := url.Values{}
	q.Set("address", owner)
	var out LedgerView
	if err := c.getJSON(ctx, "/ledger?"+q.Encode(), &out); err != nil {
		return LedgerView{}, err
	}
	return out, nil
}

// Leaderboard fetches the top owners by lifetime WOOL.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var out Leaderboard
	if err := c.getJSON(ctx, "/leaderboard?limit="+strconv.Itoa(limit), &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// Collect posts a signed collection request. A response the authority
// answered with a non-200 status is still decoded when possible so the
// caller sees the reason.
func (c *Client) Collect(ctx context.Context, req signing.CollectionRequest) (CollectResponse, error) {
	var out CollectResponse
	status, body, err := c.post(ctx, "/collect", "", req)
	if err != nil {
		c.Metrics.ObserveRemoteError("collect")
		return CollectResponse{}, err
	}
	if jsonErr := json.Unmarshal(body, &out); jsonErr != nil && status == http.StatusOK {
		c.Metrics.ObserveRemoteError("collect")
		return CollectResponse{}, fmt.Errorf("decode /collect: %w", jsonErr)
	}
	if status != http.StatusOK {
		c.Metrics.ObserveRemoteError("collect")
		reason := out.Error
		if reason == "" {
			reason = strings.TrimSpace(string(body))
		}
		return out, fmt.Errorf("collect failed (%d): %s", status, reason)
	}
	return out, nil
}

// GrantLives records a confirmed collateral transfer. Requires AdminKey.
func (c *Client) GrantLives(ctx context.Context, grant GrantRequest) (GrantResponse, error) {
	status, body, err := c.post(ctx, "/admin/lives", c.AdminKey, grant)
	if err != nil {
		return GrantResponse{}, err
	}
	if status != http.StatusOK {
		return GrantResponse{}, fmt.Errorf("grant failed (%d): %s", status, string(body))
	}
	var out GrantResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return GrantResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path, bearer string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// getJSON GETs a path and decodes the JSON response into target.
func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	endpoint := path
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.Metrics.ObserveRemoteError(endpoint)
		return fmt.Errorf("GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.Metrics.ObserveRemoteError(endpoint)
		return fmt.Errorf("GET %s returned %d: %s", endpoint, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		c.Metrics.ObserveRemoteError(endpoint)
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}
