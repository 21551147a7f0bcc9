// Package testutil provides helpers for integration testing the share
// server with real HTTP listeners, websocket viewers, and the real
// author stack.
package testutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencode-ai/sharesync/internal/blob"
	"github.com/opencode-ai/sharesync/internal/coordinator"
	"github.com/opencode-ai/sharesync/internal/kvstore"
	"github.com/opencode-ai/sharesync/internal/server"
)

// TestWebDomain is the domain share URLs point at in tests.
const TestWebDomain = "share.test"

// TestServer wraps a share server instance for testing
type TestServer struct {
	Server   *server.Server
	Registry *coordinator.Registry
	Store    *kvstore.Store
	Blobs    blob.Store
	BaseURL  string
	TempDir  string
	port     int
}

// StartTestServer creates and starts a share server on a free port,
// backed by a temp bbolt database and a temp local blob directory.
func StartTestServer() (*TestServer, error) {
	// Create temp directory for test data
	tempDir, err := os.MkdirTemp("", "sharesync-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	store, err := kvstore.Open(tempDir)
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to open kv store: %w", err)
	}

	blobs, err := blob.NewFSStore(filepath.Join(tempDir, "blobs"))
	if err != nil {
		store.Close()
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	registry := coordinator.NewRegistry(store, blobs, TestWebDomain)

	// Find available port
	port, err := findAvailablePort()
	if err != nil {
		store.Close()
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Listen = fmt.Sprintf("127.0.0.1:%d", port)

	srv := server.New(serverConfig, registry)

	// Start server in background
	go func() {
		_ = srv.Start()
	}()

	// Wait for server to be ready
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	if err := waitForServer(baseURL, 10*time.Second); err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		store.Close()
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return &TestServer{
		Server:   srv,
		Registry: registry,
		Store:    store,
		Blobs:    blobs,
		BaseURL:  baseURL,
		TempDir:  tempDir,
		port:     port,
	}, nil
}

// Stop shuts down the test server and cleans up
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if ts.Server != nil {
		// Server.Shutdown also halts the coordinator registry.
		if err := ts.Server.Shutdown(ctx); err != nil {
			return err
		}
	}
	if ts.Blobs != nil {
		ts.Blobs.Close()
	}
	if ts.Store != nil {
		ts.Store.Close()
	}

	if ts.TempDir != "" {
		os.RemoveAll(ts.TempDir)
	}

	return nil
}

// Client returns a new test client for this server
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// WSBaseURL returns the websocket form of BaseURL.
func (ts *TestServer) WSBaseURL() string {
	return "ws" + strings.TrimPrefix(ts.BaseURL, "http")
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to be ready
func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(context.Background(), "/health")
		if err == nil && resp.IsSuccess() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
