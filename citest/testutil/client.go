package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/opencode-ai/sharesync/pkg/types"
)

// TestClient provides HTTP client utilities for testing
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a new test HTTP client
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Response wraps HTTP response with helpers
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals response body into v
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// String returns response body as string
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get performs HTTP GET request
func (c *TestClient) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs HTTP POST request with JSON body
func (c *TestClient) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// do performs the actual HTTP request
func (c *TestClient) do(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	fullURL := c.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// ---- Share Helpers ----

// CreateShare registers a session with the server and returns the
// write secret and viewer URL.
func (c *TestClient) CreateShare(ctx context.Context, sessionID string) (*types.ShareCreateResponse, error) {
	resp, err := c.Post(ctx, "/share_create", types.ShareCreateRequest{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to create share: %d - %s", resp.StatusCode, resp.String())
	}

	var out types.ShareCreateResponse
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncShare publishes one key/content pair. The raw response is
// returned so callers can assert on rejection statuses.
func (c *TestClient) SyncShare(ctx context.Context, req types.ShareSyncRequest) (*Response, error) {
	return c.Post(ctx, "/share_sync", req)
}

// MustSyncShare publishes one key/content pair and fails on any
// non-2xx status.
func (c *TestClient) MustSyncShare(ctx context.Context, sessionID, secret, key, content string) error {
	resp, err := c.SyncShare(ctx, types.ShareSyncRequest{
		SessionID: sessionID,
		Secret:    secret,
		Key:       key,
		Content:   json.RawMessage(content),
	})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("failed to sync share: %d - %s", resp.StatusCode, resp.String())
	}
	return nil
}

// DeleteShare clears all published state for the session.
func (c *TestClient) DeleteShare(ctx context.Context, sessionID, secret string) (*Response, error) {
	return c.Post(ctx, "/share_delete", types.ShareDeleteRequest{SessionID: sessionID, Secret: secret})
}

// GetShareData fetches the read model for a share.
func (c *TestClient) GetShareData(ctx context.Context, shareName string) (*types.ShareData, error) {
	resp, err := c.Get(ctx, "/share_data?id="+url.QueryEscape(shareName))
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to get share data: %d - %s", resp.StatusCode, resp.String())
	}

	var data types.ShareData
	if err := resp.JSON(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
