// Package main provides the standalone entry point for the share server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/opencode-ai/sharesync/internal/blob"
	"github.com/opencode-ai/sharesync/internal/config"
	"github.com/opencode-ai/sharesync/internal/coordinator"
	"github.com/opencode-ai/sharesync/internal/kvstore"
	"github.com/opencode-ai/sharesync/internal/logging"
	"github.com/opencode-ai/sharesync/internal/server"
)

var (
	configPath = flag.String("config", "", "Path to server config file")
	listen     = flag.String("listen", "", "Address to listen on (overrides config)")
	dataDir    = flag.String("data-dir", "", "Data directory (overrides config)")
	version    = flag.Bool("version", false, "Print version and exit")
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("sharesync-server %s (%s)\n", Version, BuildTime)
		os.Exit(0)
	}

	godotenv.Load()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
	})

	logging.Info().
		Str("version", Version).
		Str("listen", cfg.Listen).
		Str("data_dir", cfg.DataDir).
		Msg("starting share server")

	store, err := kvstore.Open(cfg.DataDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open kv store")
	}
	defer store.Close()

	blobs, err := openBlobStore(context.Background(), cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open blob store")
	}
	defer blobs.Close()

	registry := coordinator.NewRegistry(store, blobs, cfg.WebDomain)

	serverConfig := server.DefaultConfig()
	serverConfig.Listen = cfg.Listen
	serverConfig.ReadTimeout = cfg.ReadTimeout

	srv := server.New(serverConfig, registry)

	// Start server in goroutine
	go func() {
		logging.Info().Str("listen", cfg.Listen).Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("server stopped")
}

// openBlobStore builds the blob mirror named by cfg. The local backend
// defaults to a blobs/ directory next to the kv database.
func openBlobStore(ctx context.Context, cfg *config.ServerConfig) (blob.Store, error) {
	switch cfg.Blob.Backend {
	case "", "local":
		dir := cfg.Blob.LocalDir
		if dir == "" {
			dir = filepath.Join(cfg.DataDir, "blobs")
		}
		return blob.NewFSStore(dir)
	case "s3":
		return blob.NewS3Store(ctx, cfg.Blob.S3)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
	}
}
