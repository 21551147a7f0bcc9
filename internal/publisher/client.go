// Package publisher implements the author side of session sharing: an
// HTTP client for the share server and the pipeline that turns local
// storage writes into share_sync calls.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opencode-ai/sharesync/pkg/types"
)

// DefaultBaseURL is the share API endpoint used when the config does
// not name one.
const DefaultBaseURL = "https://api.dev.opencode.ai"

const (
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = time.Second
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 10 * time.Second
	// RetryMaxElapsedTime is the maximum total time for retries.
	RetryMaxElapsedTime = 30 * time.Second
	// MaxRetries is the maximum number of retries for share_create.
	MaxRetries = 4
)

// APIError is a non-2xx response from the share server.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("share api: status %d", e.Status)
	}
	return fmt.Sprintf("share api: status %d: %s", e.Status, e.Body)
}

// Temporary reports whether retrying the same request could succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= 500
}

// Client calls the share server's author endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	retry   func(ctx context.Context) backoff.BackOff
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryBackOff replaces the share_create retry policy.
func WithRetryBackOff(fn func(ctx context.Context) backoff.BackOff) Option {
	return func(c *Client) { c.retry = fn }
}

// NewClient creates a share API client for baseURL, falling back to
// DefaultBaseURL when it is empty.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   newRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the endpoint the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// newRetryBackoff creates an exponential backoff with jitter for
// share_create retries, bounded by MaxRetries and the caller's context.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// ShareCreate registers sessionID with the share server and returns the
// write secret and viewer URL. Transient failures are retried; client
// errors such as a name conflict are returned immediately.
func (c *Client) ShareCreate(ctx context.Context, sessionID string) (*types.ShareCreateResponse, error) {
	var out types.ShareCreateResponse
	operation := func() error {
		err := c.post(ctx, "/share_create", types.ShareCreateRequest{SessionID: sessionID}, &out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(operation, c.retry(ctx)); err != nil {
		return nil, err
	}
	return &out, nil
}

// ShareSync publishes one key/content pair. There is no retry here: the
// pipeline re-syncs a key on its next local write, and stale frames are
// worse than missed ones.
func (c *Client) ShareSync(ctx context.Context, req types.ShareSyncRequest) error {
	return c.post(ctx, "/share_sync", req, nil)
}

// ShareDelete clears all published state for the session.
func (c *Client) ShareDelete(ctx context.Context, sessionID, secret string) error {
	return c.post(ctx, "/share_delete", types.ShareDeleteRequest{SessionID: sessionID, Secret: secret}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
