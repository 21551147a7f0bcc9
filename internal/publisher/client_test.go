package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/sharesync/pkg/types"
)

// fastRetry keeps retry tests out of real exponential backoff delays.
func fastRetry(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), MaxRetries), ctx)
}

func TestClient_DefaultBaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, NewClient("").BaseURL())
	assert.Equal(t, "http://example.test", NewClient("http://example.test/").BaseURL())
}

func TestClient_ShareCreate(t *testing.T) {
	var got types.ShareCreateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/share_create", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(types.ShareCreateResponse{Secret: "s3cret", URL: "https://web/s/name"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.ShareCreate(context.Background(), "ses_abc123")
	require.NoError(t, err)

	assert.Equal(t, "ses_abc123", got.SessionID)
	assert.Equal(t, "s3cret", resp.Secret)
	assert.Equal(t, "https://web/s/name", resp.URL)
}

func TestClient_ShareCreate_RetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "backend unavailable", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(types.ShareCreateResponse{Secret: "s", URL: "u"})
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryBackOff(fastRetry))
	resp, err := client.ShareCreate(context.Background(), "ses_abc123")
	require.NoError(t, err)
	assert.Equal(t, "s", resp.Secret)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClient_ShareCreate_ClientErrorsArePermanent(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "share name already taken", http.StatusConflict)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryBackOff(fastRetry))
	_, err := client.ShareCreate(context.Background(), "ses_abc123")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "4xx must not be retried")
}

func TestClient_ShareSync_NoRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.ShareSync(context.Background(), types.ShareSyncRequest{SessionID: "ses_x", Secret: "s", Key: "k"})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClient_ShareDelete(t *testing.T) {
	var got types.ShareDeleteRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/share_delete", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	require.NoError(t, client.ShareDelete(context.Background(), "ses_abc123", "s3cret"))
	assert.Equal(t, "ses_abc123", got.SessionID)
	assert.Equal(t, "s3cret", got.Secret)
}
