package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/sharesync/internal/blob"
	"github.com/opencode-ai/sharesync/internal/config"
	"github.com/opencode-ai/sharesync/internal/coordinator"
	"github.com/opencode-ai/sharesync/internal/kvstore"
	"github.com/opencode-ai/sharesync/internal/logging"
	"github.com/opencode-ai/sharesync/internal/server"
)

var (
	serveConfigPath      string
	serveListen          string
	serveDataDir         string
	serveShutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the share server",
	Long: `Serve runs the share server that authors publish to and viewers
connect to. State lives under the data directory; deleting it deletes
every share.

Configuration is read from the --config file if given, then overridden
by SHARESYNC_* environment variables and these flags.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to server config file")
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Address to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "Data directory (overrides config)")
	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 0, "Graceful shutdown timeout (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServer(serveConfigPath)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	if serveDataDir != "" {
		cfg.DataDir = serveDataDir
	}
	if serveShutdownTimeout > 0 {
		cfg.ShutdownTimeout = serveShutdownTimeout
	}

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty || printLogs,
	})

	logging.Info().
		Str("version", Version).
		Str("listen", cfg.Listen).
		Str("data_dir", cfg.DataDir).
		Msg("starting share server")

	store, err := kvstore.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open kv store: %w", err)
	}
	defer store.Close()

	blobs, err := openBlobStore(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}
	defer blobs.Close()

	registry := coordinator.NewRegistry(store, blobs, cfg.WebDomain)

	serverConfig := server.DefaultConfig()
	serverConfig.Listen = cfg.Listen
	serverConfig.ReadTimeout = cfg.ReadTimeout

	srv := server.New(serverConfig, registry)

	go func() {
		logging.Info().Str("listen", cfg.Listen).Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("server stopped")
	return nil
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
